package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/executor"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/parser"
	"main/internal/risk"
	"main/internal/schema"
)

var ErrInvalidTransition = errors.New("invalid mode transition")

// Mode is the orchestrator lifecycle state.
type Mode uint16

const (
	ModeInitializing Mode = iota
	ModeRunning
	ModePaused
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeInitializing:
		return "initializing"
	case ModeRunning:
		return "running"
	case ModePaused:
		return "paused"
	case ModeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes the alert pipeline. Shards bounds parallelism across
// symbols; alerts for one symbol always land on the same shard.
type Config struct {
	Shards         int           `mapstructure:"shards"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	RawDedupWindow time.Duration `mapstructure:"raw_dedup_window"`
	StopGrace      time.Duration `mapstructure:"stop_grace"`
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.RawDedupWindow <= 0 {
		c.RawDedupWindow = 10 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Orchestrator drives raw chat messages through parse, risk, and
// execution. Ingest is safe for concurrent use; per-symbol alert order
// is preserved by the shard queues.
type Orchestrator struct {
	cfg      Config
	parser   *parser.Factory
	guard    *risk.Guard
	exec     *executor.Executor
	notifier notify.Notifier
	metrics  *obs.Metrics

	// OnAlert and OnResult, when set before Start, observe every parsed
	// alert and every execution outcome.
	OnAlert  func(schema.AlertInfo)
	OnResult func(schema.OrderResult)

	mu      sync.Mutex
	mode    Mode
	shards  *bus.Shards
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	rawSeen map[uint64]time.Time

	// execMu serializes the account snapshot, risk evaluation, and
	// placement of one order against the single trading account, so a
	// second shard only sizes after the first fill has landed.
	execMu sync.Mutex

	now func() time.Time
}

// New wires the pipeline in initializing mode; Start connects the
// broker and begins consuming.
func New(cfg Config, p *parser.Factory, guard *risk.Guard, exec *executor.Executor, notifier notify.Notifier, metrics *obs.Metrics) *Orchestrator {
	cfg = cfg.withDefaults()
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		parser:   p,
		guard:    guard,
		exec:     exec,
		notifier: notifier,
		metrics:  metrics,
		mode:     ModeInitializing,
		shards:   bus.NewShards(cfg.Shards, cfg.QueueCapacity),
		rawSeen:  make(map[uint64]time.Time),
		now:      time.Now,
	}
}

// Start connects the broker and launches one consumer per shard. A
// failed connect leaves the orchestrator in initializing mode so Start
// can be retried.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.mode != ModeInitializing {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, o.mode)
	}
	if err := o.exec.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	for _, q := range o.shards.Queues() {
		o.wg.Add(1)
		go func(q *bus.Queue) {
			defer o.wg.Done()
			q.Run(runCtx, o.handle)
		}(q)
	}

	o.mode = ModeRunning
	logs.Infof("orchestrator running with %d shards", o.cfg.Shards)
	return nil
}

// Mode returns the current lifecycle mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Ingest accepts one raw chat message. It never reports failure to the
// caller: messages arriving before start or after stop are dropped,
// repeated raw text within the dedup window is suppressed, and
// unparseable messages are logged without disturbing the stream.
func (o *Orchestrator) Ingest(raw string, receivedAt time.Time, channelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.mode != ModeRunning && o.mode != ModePaused {
		o.metrics.IncStage(obs.StageDropped)
		logs.Warnf("orchestrator %s, dropping message (channel %s)", o.mode, channelID)
		return
	}
	o.metrics.IncStage(obs.StageReceived)

	if o.seenRecently(raw) {
		o.metrics.IncStage(obs.StageDuplicate)
		logs.Infof("duplicate raw message suppressed (channel %s)", channelID)
		return
	}

	start := o.now()
	alert, err := o.parser.Parse(raw, receivedAt, channelID)
	o.metrics.ObserveParse(o.now().Sub(start))
	if err != nil {
		o.metrics.IncStage(obs.StageParseFailed)
		logs.Warnf("unparseable message dropped (channel %s): %v", channelID, err)
		return
	}
	o.metrics.IncStage(obs.StageParsed)
	if o.OnAlert != nil {
		o.OnAlert(alert)
	}

	if err := o.shards.Publish(alert); err != nil {
		o.metrics.IncStage(obs.StageDropped)
		logs.Warnf("alert dropped for %s: %v", alert.Symbol, err)
	}
}

// handle runs on a shard consumer goroutine, one alert at a time per
// symbol.
func (o *Orchestrator) handle(alert schema.AlertInfo) {
	if o.Mode() != ModeRunning {
		o.metrics.IncStage(obs.StageSkippedPaused)
		logs.Infof("not running, skipping %s alert for %s (%s)", alert.Direction, alert.Symbol, alert.CorrelationID)
		return
	}

	ctx := context.Background()

	// Snapshot, evaluation, and placement form one account-wide
	// critical section. The position count and sizing checks must see
	// every fill already placed, not a snapshot taken before a
	// concurrent shard committed its order.
	o.execMu.Lock()

	account, err := o.exec.AccountState(ctx)
	if err != nil {
		o.execMu.Unlock()
		o.metrics.IncStage(obs.StageExecuteFailed)
		logs.Errorf("account snapshot failed, dropping alert %s: %v", alert.CorrelationID, err)
		return
	}

	start := o.now()
	order, err := o.guard.Evaluate(alert, account)
	o.metrics.ObserveRiskEval(o.now().Sub(start))
	if err != nil {
		o.execMu.Unlock()
		o.metrics.IncStage(obs.StageRejected)
		var rej *risk.Rejection
		if errors.As(err, &rej) {
			o.metrics.IncRiskReason(rej.Reason)
		}
		logs.Infof("alert %s rejected: %v", alert.CorrelationID, err)
		return
	}

	result, execErr := o.exec.Execute(ctx, order)
	if execErr == nil {
		if pos, ok := account.OpenPositions[order.Symbol]; ok {
			if realized := realizedPnL(pos, order.Action, result); realized != 0 {
				o.guard.RecordPnL(realized)
			}
		}
	}
	o.execMu.Unlock()

	if execErr != nil {
		o.metrics.IncStage(obs.StageExecuteFailed)
		o.notifyf(ctx, "order failed: %s %d %s (%v)", order.Action, order.Quantity, order.Symbol, execErr)
	} else {
		o.metrics.IncStage(obs.StageExecuted)
		o.notifyf(ctx, "order %s: %s %d %s @ %.2f", result.Status, order.Action, result.FilledQuantity, order.Symbol, result.FilledPrice)
	}
	if o.OnResult != nil {
		o.OnResult(result)
	}
}

// realizedPnL is the profit realized by a fill that reduces an existing
// position. Fills that open or extend a position realize nothing.
func realizedPnL(pos schema.Position, action schema.OrderAction, result schema.OrderResult) float64 {
	if result.FilledQuantity <= 0 || result.FilledPrice <= 0 {
		return 0
	}
	switch {
	case pos.Quantity > 0 && action != schema.OrderActionBuy:
		closed := min(pos.Quantity, result.FilledQuantity)
		return (result.FilledPrice - pos.AvgPrice) * float64(closed)
	case pos.Quantity < 0 && action == schema.OrderActionBuy:
		closed := min(-pos.Quantity, result.FilledQuantity)
		return (pos.AvgPrice - result.FilledPrice) * float64(closed)
	default:
		return 0
	}
}

// Pause stops risk evaluation and execution while parsing continues.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode != ModeRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, o.mode)
	}
	o.mode = ModePaused
	logs.Warn("orchestrator paused")
	return nil
}

// Resume restarts execution after a pause.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode != ModePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, o.mode)
	}
	o.mode = ModeRunning
	logs.Info("orchestrator resumed")
	return nil
}

// EmergencyStop pauses the pipeline and flattens every open position.
// It requires a started pipeline: before Start there is no broker
// session to flatten, and after Stop the session is gone.
func (o *Orchestrator) EmergencyStop(ctx context.Context, reason string) error {
	o.mu.Lock()
	if o.mode != ModeRunning && o.mode != ModePaused {
		o.mu.Unlock()
		return fmt.Errorf("%w: emergency stop from %s", ErrInvalidTransition, o.mode)
	}
	o.mode = ModePaused
	o.mu.Unlock()

	logs.Errorf("EMERGENCY STOP: %s", reason)
	o.notifyf(ctx, "EMERGENCY STOP: %s, flattening all positions", reason)

	// Wait out any in-flight placement so the flatten snapshot includes
	// its fill.
	o.execMu.Lock()
	defer o.execMu.Unlock()
	return o.exec.Flatten(ctx, reason)
}

// Blacklist blocks a symbol at runtime.
func (o *Orchestrator) Blacklist(symbol string) {
	o.guard.AddBlacklist(symbol)
	logs.Warnf("symbol blacklisted: %s", symbol)
}

// Unblacklist unblocks a symbol.
func (o *Orchestrator) Unblacklist(symbol string) {
	o.guard.RemoveBlacklist(symbol)
	logs.Infof("symbol removed from blacklist: %s", symbol)
}

// NewDay resets the daily loss tracking and cooldown memory.
func (o *Orchestrator) NewDay() {
	o.guard.NewDay()
	logs.Info("new trading day: daily limits reset")
}

// Stop drains the shard queues, waits up to the configured grace, and
// disconnects the broker. Alerts still queued when the grace expires
// are abandoned.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.mode == ModeStopped {
		o.mu.Unlock()
		return nil
	}
	o.mode = ModeStopped
	o.shards.Close()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.StopGrace):
		logs.Warnf("stop grace %s expired, abandoning queued alerts", o.cfg.StopGrace)
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.exec.Disconnect()
	logs.Info("orchestrator stopped")
	return nil
}

// seenRecently records the raw message hash and reports whether the
// same text arrived within the dedup window. Caller holds o.mu.
func (o *Orchestrator) seenRecently(raw string) bool {
	h := fnv.New64a()
	h.Write([]byte(raw))
	key := h.Sum64()

	now := o.now()
	for k, at := range o.rawSeen {
		if now.Sub(at) > o.cfg.RawDedupWindow {
			delete(o.rawSeen, k)
		}
	}
	if at, ok := o.rawSeen[key]; ok && now.Sub(at) <= o.cfg.RawDedupWindow {
		return true
	}
	o.rawSeen[key] = now
	return false
}

func (o *Orchestrator) notifyf(ctx context.Context, format string, args ...any) {
	if err := o.notifier.Notify(ctx, fmt.Sprintf(format, args...)); err != nil {
		logs.Warnf("notify failed: %v", err)
	}
}
