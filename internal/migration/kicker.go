package migration

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultKickInterval is the periodic re-entry interval while a
// migration is in progress.
const DefaultKickInterval = 5 * time.Second

// Runner is what the Kicker drives.
type Runner interface {
	RunOnce(ctx context.Context)
	Current() (State, error)
}

// Kicker serializes orchestrator runs on a single worker. Kicks are
// coalesced: kicks arriving while one is queued collapse into it. While
// a migration is in progress a periodic timer kicks as well.
type Kicker struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	kicks chan struct{}

	mu       sync.Mutex
	periodic bool
}

// NewKicker creates a kicker. interval <= 0 uses DefaultKickInterval.
func NewKicker(runner Runner, interval time.Duration, logger *slog.Logger) *Kicker {
	if interval <= 0 {
		interval = DefaultKickInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Kicker{
		runner:   runner,
		interval: interval,
		logger:   logger.With(slog.String("component", "kicker")),
		kicks:    make(chan struct{}, 1),
	}
}

// Kick queues one orchestrator run. It never blocks.
func (k *Kicker) Kick() {
	select {
	case k.kicks <- struct{}{}:
	default:
	}
}

// StopPeriodic cancels the periodic timer. It is re-armed only if a
// later run observes an in-progress migration.
func (k *Kicker) StopPeriodic() {
	k.setPeriodic(false)
}

// Periodic reports whether the periodic timer is active.
func (k *Kicker) Periodic() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.periodic
}

func (k *Kicker) setPeriodic(on bool) {
	k.mu.Lock()
	changed := k.periodic != on
	k.periodic = on
	k.mu.Unlock()

	if changed {
		k.logger.Debug("periodic kicks toggled", slog.Bool("enabled", on))
	}
}

// Run is the worker loop. It returns when ctx is cancelled.
func (k *Kicker) Run(ctx context.Context) error {
	k.refresh()

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)

	arm := func() {
		switch on := k.Periodic(); {
		case on && ticker == nil:
			ticker = time.NewTicker(k.interval)
			tick = ticker.C
		case !on && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}

	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		arm()

		select {
		case <-ctx.Done():
			return nil
		case <-k.kicks:
		case <-tick:
		}

		k.runner.RunOnce(ctx)
		k.refresh()
	}
}

// refresh arms the periodic timer from the persisted state.
func (k *Kicker) refresh() {
	s, err := k.runner.Current()
	if err != nil {
		k.logger.Warn("reading migration state", slog.String("error", err.Error()))
		return
	}

	k.setPeriodic(s.InProgress())
}
