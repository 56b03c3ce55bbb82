package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zulandar/great12/internal/config"
	"github.com/zulandar/great12/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// ErrUnknownState is returned when a callback carries a state value that
// was not issued by NewState.
var ErrUnknownState = errors.New("auth: unknown sign-in state")

// stateTTL bounds how long a sign-in state stays redeemable.
const stateTTL = 10 * time.Minute

var _ Authenticator = (*Service)(nil)

// ServiceOpts configures a Service.
type ServiceOpts struct {
	DB         *gorm.DB
	Config     config.AuthConfig
	HTTPClient *http.Client     // optional; used for token and userinfo calls
	Now        func() time.Time // optional
}

// Service implements Authenticator with an OAuth authorization-code flow.
// Sessions are persisted in the auth_sessions table.
type Service struct {
	db          *gorm.DB
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
	now         func() time.Time

	mu      sync.Mutex
	loaded  bool
	current *models.AuthSession
	pending map[string]time.Time

	events broadcaster
}

// NewService validates opts and returns a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("auth: db is required")
	}
	if opts.Config.ClientID == "" {
		return nil, fmt.Errorf("auth: client_id is required")
	}
	if opts.Config.UserInfoURL == "" {
		return nil, fmt.Errorf("auth: userinfo_url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db: opts.DB,
		oauth: &oauth2.Config{
			ClientID:     opts.Config.ClientID,
			ClientSecret: opts.Config.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.Config.AuthURL,
				TokenURL: opts.Config.TokenURL,
			},
			RedirectURL: opts.Config.RedirectURL,
			Scopes:      opts.Config.Scopes,
		},
		userInfoURL: opts.Config.UserInfoURL,
		client:      client,
		now:         now,
		pending:     make(map[string]time.Time),
	}, nil
}

// NewState issues a single-use state value for SignInURL.
func (s *Service) NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate state: %w", err)
	}
	state := hex.EncodeToString(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, issued := range s.pending {
		if now.Sub(issued) > stateTTL {
			delete(s.pending, k)
		}
	}
	s.pending[state] = now
	return state, nil
}

// SignInURL returns the provider consent page URL.
func (s *Service) SignInURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// CompleteSignIn exchanges an authorization code, resolves the user and
// stores the session. Subscribers receive EventSignedIn.
func (s *Service) CompleteSignIn(ctx context.Context, code, state string) (*Session, error) {
	if !s.redeemState(state) {
		return nil, ErrUnknownState
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchange code: %w", err)
	}
	info, err := s.fetchUserInfo(ctx, tok)
	if err != nil {
		return nil, err
	}

	row := sessionRow(info, tok)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.AuthSession{}).Error; err != nil {
			return fmt.Errorf("auth: clear sessions: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("auth: save session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = &row
	s.loaded = true
	s.mu.Unlock()

	sess := toSession(&row)
	s.events.emit(Event{Kind: EventSignedIn, Session: sess})
	return sess, nil
}

// Session returns the current session, or nil when signed out. The first call
// loads any session persisted by an earlier process and emits
// EventInitialSession. An expired token is refreshed when a refresh token is
// available.
func (s *Service) Session(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	first := !s.loaded
	if first {
		var rows []models.AuthSession
		if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("auth: load session: %w", err)
		}
		if len(rows) > 0 {
			s.current = &rows[0]
		}
		s.loaded = true
	}
	row := s.current
	s.mu.Unlock()

	if first {
		s.events.emit(Event{Kind: EventInitialSession, Session: toSession(row)})
	}
	if row == nil {
		return nil, nil
	}
	if row.ExpiresAt != nil && !s.now().Before(*row.ExpiresAt) && row.RefreshToken != "" {
		return s.refresh(ctx, row)
	}
	return toSession(row), nil
}

// SignOut deletes the stored session. Subscribers receive EventSignedOut.
func (s *Service) SignOut(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.AuthSession{}).Error; err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	s.mu.Lock()
	s.current = nil
	s.loaded = true
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventSignedOut})
	return nil
}

// Subscribe registers fn for session changes.
func (s *Service) Subscribe(fn func(Event)) *Subscription {
	return s.events.subscribe(fn)
}

func (s *Service) refresh(ctx context.Context, row *models.AuthSession) (*Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	old := rowToken(row)
	// Force the token source to hit the token endpoint.
	old.Expiry = time.Unix(1, 0)
	tok, err := s.oauth.TokenSource(ctx, old).Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refresh token: %w", err)
	}

	updated := *row
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.TokenType = tok.TokenType
	updated.ExpiresAt = expiry(tok)
	err = s.db.WithContext(ctx).Model(&models.AuthSession{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"access_token":  updated.AccessToken,
		"refresh_token": updated.RefreshToken,
		"token_type":    updated.TokenType,
		"expires_at":    updated.ExpiresAt,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("auth: save refreshed token: %w", err)
	}

	s.mu.Lock()
	s.current = &updated
	s.mu.Unlock()

	sess := toSession(&updated)
	s.events.emit(Event{Kind: EventTokenRefreshed, Session: sess})
	return sess, nil
}

type userInfo struct {
	Sub   string `json:"sub"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Service) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: userinfo request: %w", err)
	}
	resp, err := s.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: userinfo: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: userinfo returned %d: %s", resp.StatusCode, body)
	}
	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("auth: decode userinfo: %w", err)
	}
	if info.Sub == "" {
		info.Sub = info.ID
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("auth: userinfo has no subject")
	}
	return &info, nil
}

func (s *Service) redeemState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.pending[state]
	if !ok {
		return false
	}
	delete(s.pending, state)
	return s.now().Sub(issued) <= stateTTL
}

func sessionRow(info *userInfo, tok *oauth2.Token) models.AuthSession {
	return models.AuthSession{
		UserID:       info.Sub,
		Email:        info.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    expiry(tok),
	}
}

func expiry(tok *oauth2.Token) *time.Time {
	if tok.Expiry.IsZero() {
		return nil
	}
	t := tok.Expiry
	return &t
}

func rowToken(row *models.AuthSession) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    row.TokenType,
	}
	if row.ExpiresAt != nil {
		tok.Expiry = *row.ExpiresAt
	}
	return tok
}

func toSession(row *models.AuthSession) *Session {
	if row == nil {
		return nil
	}
	sess := &Session{UserID: row.UserID, Email: row.Email, AccessToken: row.AccessToken}
	if row.ExpiresAt != nil {
		sess.ExpiresAt = *row.ExpiresAt
	}
	return sess
}
