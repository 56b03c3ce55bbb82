// Package ai calls the text-generation endpoint that writes weekly feedback.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindQuota     Kind = "quota"
	KindRemote    Kind = "remote"
)

// Error is returned by Generate for every failure.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("ai: ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClientOpts configures a Client.
type ClientOpts struct {
	Endpoint      string
	Token         string // optional bearer token
	Timeout       time.Duration
	CacheSize     int // 0 disables caching
	RatePerMinute int // 0 disables limiting
	HTTPClient    *http.Client
}

// Client posts prompts to a JSON endpoint. Identical prompts are answered
// from an LRU cache and do not count against the rate limit.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	cache    *lru.Cache[string, string]
	limiter  *rate.Limiter
}

var _ Generator = (*Client)(nil)

// NewClient validates opts and returns a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("ai: endpoint is required")
	}
	c := &Client{endpoint: opts.Endpoint, token: opts.Token, http: opts.HTTPClient}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, string](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("ai: create cache: %w", err)
		}
		c.cache = cache
	}
	if opts.RatePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute)
	}
	return c, nil
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Generate sends prompt and returns the generated text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("ai: prompt is required")
	}
	if c.cache != nil {
		if text, ok := c.cache.Get(prompt); ok {
			return text, nil
		}
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return "", &Error{Kind: KindQuota, Msg: "rate limit exceeded"}
	}

	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("ai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Kind: KindTransport, Status: resp.StatusCode, Err: err}
	}

	var out generateResponse
	decodeErr := json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &Error{Kind: KindQuota, Status: resp.StatusCode, Msg: out.Error}
	case resp.StatusCode != http.StatusOK:
		msg := out.Error
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &Error{Kind: KindRemote, Status: resp.StatusCode, Msg: msg}
	case decodeErr != nil:
		return "", &Error{Kind: KindRemote, Status: resp.StatusCode, Msg: "malformed response", Err: decodeErr}
	case out.Error != "":
		return "", &Error{Kind: KindRemote, Status: resp.StatusCode, Msg: out.Error}
	}

	if c.cache != nil {
		c.cache.Add(prompt, out.Text)
	}
	return out.Text, nil
}
