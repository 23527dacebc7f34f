package resilience

import (
	"maps"
	"time"
)

// Config bounds retries and the per-operation circuit breaker.
type Config struct {
	RetryMaxAttempts    int           `yaml:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	RetryMultiplier     float64       `yaml:"retry_multiplier"`

	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRatio     float64       `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `yaml:"breaker_half_open_max_calls"`

	// Operations overrides the retry budget per operation name, e.g. "docsapi.analyze_document".
	Operations map[string]OperationPolicy `yaml:"operations"`
}

// OperationPolicy tunes one named operation. Zero fields fall back to Config.
type OperationPolicy struct {
	MaxAttempts int `yaml:"max_attempts"`
	// NoBreaker keeps the operation out of circuit accounting.
	NoBreaker bool `yaml:"no_breaker"`
}

// Operation names shared by the document API client and the lifecycle bus.
const (
	OpAnalyzeDocument = "docsapi.analyze_document"
	OpAskQuestion     = "docsapi.ask_question"
	OpUploadDocument  = "docsapi.upload_document"
	OpBulkDownload    = "docsapi.bulk_download"
	OpListDocuments   = "docsapi.list_documents"
	OpGetDocument     = "docsapi.get_document"
	OpPublishEvent    = "nats.publish"
)

// DefaultOperationPolicies sends server-side work that is not idempotent exactly once.
func DefaultOperationPolicies() map[string]OperationPolicy {
	return map[string]OperationPolicy{
		OpAnalyzeDocument: {MaxAttempts: 1},
		OpAskQuestion:     {MaxAttempts: 1},
		OpUploadDocument:  {MaxAttempts: 1},
		OpBulkDownload:    {MaxAttempts: 1},
		OpListDocuments:   {MaxAttempts: 4},
		OpGetDocument:     {MaxAttempts: 4},
		// lifecycle events are best effort
		OpPublishEvent: {MaxAttempts: 2, NoBreaker: true},
	}
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,

		Operations: DefaultOperationPolicies(),
	}
}

// attemptsFor returns the retry budget for operation.
func (c Config) attemptsFor(operation string) int {
	if p, ok := c.Operations[operation]; ok && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return c.RetryMaxAttempts
}

func (c Config) breakerFor(operation string) bool {
	if !c.BreakerEnabled {
		return false
	}
	return !c.Operations[operation].NoBreaker
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	out.Operations = maps.Clone(out.Operations)

	return out
}
