package runnable

import (
	"sync"

	"github.com/agentstation/runnable/internal/retry"
)

// globalDefaults holds the default configuration applied to new nodes.
var globalDefaults = newDefaults()

type nodeDefaults struct {
	mu sync.RWMutex

	logger         Logger
	tracer         Tracer
	maxConcurrency int
	policy         retry.Policy
}

func newDefaults() *nodeDefaults {
	return &nodeDefaults{
		logger: nopLogger{},
		policy: retry.DefaultPolicy(),
	}
}

// SetDefaults applies opts to the defaults used by every node built afterwards.
// Nodes already constructed keep their configuration.
func SetDefaults(opts ...Option) {
	globalDefaults.mu.Lock()
	defer globalDefaults.mu.Unlock()

	o := globalDefaults.options()
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger != nil {
		globalDefaults.logger = o.logger
	}
	globalDefaults.tracer = o.tracer
	globalDefaults.maxConcurrency = o.maxConcurrency
	globalDefaults.policy = retry.Policy{
		MaxAttempts: o.maxAttempts,
		BaseDelay:   o.baseDelay,
		Multiplier:  o.multiplier,
		MaxDelay:    o.maxDelay,
		Jitter:      o.jitter,
	}
}

// SetDefaultLogger sets the logger used by nodes built without WithLogger.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}

	globalDefaults.mu.Lock()
	defer globalDefaults.mu.Unlock()
	globalDefaults.logger = logger
}

// SetDefaultMaxConcurrency sets the fan-out limit for new Parallel nodes.
func SetDefaultMaxConcurrency(n int) {
	globalDefaults.mu.Lock()
	defer globalDefaults.mu.Unlock()
	globalDefaults.maxConcurrency = n
}

// ResetDefaults restores the initial defaults.
func ResetDefaults() {
	fresh := newDefaults()

	globalDefaults.mu.Lock()
	defer globalDefaults.mu.Unlock()
	globalDefaults.logger = fresh.logger
	globalDefaults.tracer = fresh.tracer
	globalDefaults.maxConcurrency = fresh.maxConcurrency
	globalDefaults.policy = fresh.policy
}

// defaultOptions returns a copy of the current global defaults.
func defaultOptions() options {
	globalDefaults.mu.RLock()
	defer globalDefaults.mu.RUnlock()
	return globalDefaults.options()
}

// options must be called with mu held.
func (d *nodeDefaults) options() options {
	return options{
		logger:         d.logger,
		tracer:         d.tracer,
		maxConcurrency: d.maxConcurrency,
		maxAttempts:    d.policy.MaxAttempts,
		baseDelay:      d.policy.BaseDelay,
		multiplier:     d.policy.Multiplier,
		maxDelay:       d.policy.MaxDelay,
		jitter:         d.policy.Jitter,
	}
}
