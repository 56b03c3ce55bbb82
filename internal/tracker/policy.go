package tracker

import (
	"fmt"
	"time"

	"github.com/zulandar/great12/internal/config"
)

// PolicyMode selects what happens after a remote write fails.
type PolicyMode int

const (
	// PolicySilent logs the failure and keeps the optimistic local state.
	PolicySilent PolicyMode = iota
	// PolicyRollback undoes the local change.
	PolicyRollback
	// PolicyRetry repeats the write, then logs.
	PolicyRetry
)

func (m PolicyMode) String() string {
	switch m {
	case PolicySilent:
		return "silent"
	case PolicyRollback:
		return "rollback"
	case PolicyRetry:
		return "retry"
	default:
		return fmt.Sprintf("PolicyMode(%d)", int(m))
	}
}

// Policy is the reconciliation policy for optimistic writes.
type Policy struct {
	Mode        PolicyMode
	MaxAttempts int           // total attempts under PolicyRetry
	RetryDelay  time.Duration // multiplied by the attempt number
}

// PolicyFromConfig converts the sync section of great12.yaml.
func PolicyFromConfig(cfg config.SyncConfig) (Policy, error) {
	p := Policy{MaxAttempts: cfg.MaxAttempts, RetryDelay: cfg.RetryDelay()}
	switch cfg.Policy {
	case "", "silent":
		p.Mode = PolicySilent
	case "rollback":
		p.Mode = PolicyRollback
	case "retry":
		p.Mode = PolicyRetry
	default:
		return Policy{}, fmt.Errorf("tracker: unknown sync policy %q", cfg.Policy)
	}
	return p, nil
}

func (p Policy) attempts() int {
	if p.Mode != PolicyRetry || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
