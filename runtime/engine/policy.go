package engine

import "time"

// Policy tunes the execution loop's retry and pacing behaviour.
type Policy struct {
	// BaseBackoff and MaxBackoff bound the wait between failed store reads.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxConflictRetries bounds checkpoint re-application after a lost write.
	MaxConflictRetries int
	// DelayOverride replaces the settings delay between recipients when > 0.
	DelayOverride time.Duration
	// StoreTimeout bounds each checkpoint write.
	StoreTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseBackoff:        500 * time.Millisecond,
		MaxBackoff:         30 * time.Second,
		MaxConflictRetries: 5,
		StoreTimeout:       10 * time.Second,
	}
}

func NormalizePolicy(policy Policy) Policy {
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = 500 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 30 * time.Second
	}
	if policy.MaxBackoff < policy.BaseBackoff {
		policy.MaxBackoff = policy.BaseBackoff
	}
	if policy.MaxConflictRetries <= 0 {
		policy.MaxConflictRetries = 5
	}
	if policy.DelayOverride < 0 {
		policy.DelayOverride = 0
	}
	if policy.StoreTimeout <= 0 {
		policy.StoreTimeout = 10 * time.Second
	}
	return policy
}

func (p Policy) Backoff(attempt int) time.Duration {
	p = NormalizePolicy(p)
	if attempt <= 0 {
		attempt = 1
	}
	backoff := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}
