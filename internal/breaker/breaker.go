package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// ErrOpen is returned when the breaker short-circuits a call without
// attempting the underlying operation.
var ErrOpen = errors.New("circuit breaker is open")

// State tracks the breaker lifecycle for one protected resource.
type State uint16

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls when the breaker trips and recovers.
type Config struct {
	Threshold    int           `mapstructure:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// Breaker protects one named resource. Closed passes calls through and
// counts failures; Threshold consecutive failures open the circuit;
// after ResetTimeout a single half-open probe decides between reset
// and re-open. Safe for concurrent use; state is never shared across
// resources.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	now func() time.Time
}

// New creates a closed breaker for the named resource.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

// Execute runs op under breaker protection. When the circuit is open
// it returns ErrOpen immediately without invoking op. During half-open
// only one probe is in flight; concurrent callers get ErrOpen until
// the probe resolves.
func (b *Breaker) Execute(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op()
	b.record(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the protected resource name.
func (b *Breaker) Name() string { return b.name }

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		logs.Infof("breaker %s: open -> half-open", b.name)
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default: // StateHalfOpen
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			logs.Infof("breaker %s: %s -> closed", b.name, b.state)
		}
		b.state = StateClosed
		b.failures = 0
		b.probing = false
		return
	}

	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		if b.state != StateOpen {
			logs.Warnf("breaker %s: %s -> open after %d failures", b.name, b.state, b.failures)
		}
		b.state = StateOpen
	}
}
