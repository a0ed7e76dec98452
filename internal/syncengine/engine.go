// Package syncengine runs the background synchronization of one data
// domain (calendars or addressbooks) between the local cache and the
// remote WebDAV store.
package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/dav-sync/internal/dav"
	"github.com/alexjbarnes/dav-sync/internal/keys"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

const (
	// defaultInterval is the periodic pass interval when none is set.
	defaultInterval = 15 * time.Minute

	// passTimeout bounds a single pass so a hung server cannot wedge the
	// engine forever.
	passTimeout = 10 * time.Minute
)

// Collections lists the remote collections of the engine's domain.
type Collections interface {
	List(ctx context.Context) ([]dav.Collection, error)
}

// Records reads and writes remote record bodies.
type Records interface {
	ListRecords(ctx context.Context, collection string) ([]dav.RecordInfo, error)
	GetRecord(ctx context.Context, href string) (*dav.Record, error)
	PutRecord(ctx context.Context, href string, data []byte, etag string) (string, error)
}

// CipherSource provides the cipher for the current key material.
type CipherSource interface {
	Cipher() (*keys.Cipher, error)
}

// Observer receives pass outcomes. result is "ok", "error" or "skipped".
type Observer interface {
	EnginePass(domain, result string)
}

// Config holds the collaborators of an Engine.
type Config struct {
	Account     string
	Kind        state.Kind
	State       *state.State
	Collections Collections
	Records     Records
	Keys        CipherSource
	Interval    time.Duration
	Logger      *slog.Logger
	Observer    Observer

	// OnPassComplete is called after every pass that ran, successful or
	// not.
	OnPassComplete func()

	// Hiding, when set, builds the collection source for the current
	// cipher so hidden display names and colors are revealed. Plain
	// metadata is still read where no hidden property exists.
	Hiding func(h dav.Hider) Collections
}

// Engine synchronizes one domain for one account. Requests are
// coalesced: any number of RequestSync calls while a pass is queued
// result in a single pass.
type Engine struct {
	account     string
	kind        state.Kind
	state       *state.State
	collections Collections
	hiding      func(h dav.Hider) Collections
	records     Records
	keys        CipherSource
	interval    time.Duration
	logger      *slog.Logger
	observer    Observer
	onPass      func()

	requests chan struct{}

	mu      sync.Mutex
	running bool

	now func() time.Time
}

// New creates an engine. Run must be called to start processing.
func New(cfg Config) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		account:     cfg.Account,
		kind:        cfg.Kind,
		state:       cfg.State,
		collections: cfg.Collections,
		hiding:      cfg.Hiding,
		records:     cfg.Records,
		keys:        cfg.Keys,
		interval:    interval,
		logger:      logger.With(slog.String("component", "syncengine"), slog.String("domain", string(cfg.Kind))),
		observer:    cfg.Observer,
		onPass:      cfg.OnPassComplete,
		requests:    make(chan struct{}, 1),
		now:         time.Now,
	}
}

// Domain returns the domain name used for persisted engine state.
func (e *Engine) Domain() string {
	return string(e.kind)
}

// RequestSync queues a pass. It never blocks.
func (e *Engine) RequestSync() {
	select {
	case e.requests <- struct{}{}:
	default:
	}
}

// CancelPendingSyncs drops a queued pass that has not started yet.
func (e *Engine) CancelPendingSyncs(account string) {
	if account != e.account {
		return
	}

	select {
	case <-e.requests:
	default:
	}
}

// TimeLastSync returns the completion time of the last successful pass
// in Unix milliseconds.
func (e *Engine) TimeLastSync() (int64, bool) {
	return e.state.LastSync(e.account, e.Domain())
}

// SetTimeLastSync records an externally observed pass completion, such
// as one reported by the server push channel. Older timestamps are
// ignored.
func (e *Engine) SetTimeLastSync(ts int64) {
	if cur, ok := e.TimeLastSync(); ok && cur >= ts {
		return
	}

	if err := e.state.SetLastSync(e.account, e.Domain(), ts); err != nil {
		e.logger.Warn("recording last sync time", slog.String("error", err.Error()))
	}
}

// SyncInProgress reports whether a pass is currently running.
func (e *Engine) SyncInProgress(account string) bool {
	if account != e.account {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// SetSyncEnabled enables or disables passes for the account.
func (e *Engine) SetSyncEnabled(account string, enabled bool) {
	if account != e.account {
		return
	}

	if err := e.state.SetSyncEnabled(account, e.Domain(), enabled); err != nil {
		e.logger.Warn("persisting sync enabled flag", slog.String("error", err.Error()))
	}
}

// Run processes requests and periodic passes until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("sync engine started", slog.Duration("interval", e.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.requests:
			e.Sync(ctx)
		case <-ticker.C:
			e.Sync(ctx)
		}
	}
}

// Sync runs one pass now if the engine is enabled and the master
// auto-sync switch is on. It reports whether a pass ran.
func (e *Engine) Sync(ctx context.Context) bool {
	if !e.state.AutoSync() || !e.state.SyncEnabled(e.account, e.Domain()) {
		e.logger.Debug("sync disabled, skipping pass")
		e.observe("skipped")

		return false
	}

	e.setRunning(true)

	passCtx, cancel := context.WithTimeout(ctx, passTimeout)
	err := e.pass(passCtx)

	cancel()

	if err == nil {
		e.SetTimeLastSync(e.now().UnixMilli())
	}

	e.setRunning(false)

	if err != nil {
		e.logger.Warn("sync pass failed", slog.String("error", err.Error()))
		e.observe("error")
	} else {
		e.logger.Debug("sync pass complete")
		e.observe("ok")
	}

	if e.onPass != nil {
		e.onPass()
	}

	return true
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

func (e *Engine) observe(result string) {
	if e.observer != nil {
		e.observer.EnginePass(e.Domain(), result)
	}
}
