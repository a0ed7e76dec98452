// Package migration moves an account from the legacy shared-secret key
// scheme to per-collection keys. The Orchestrator is a resumable state
// machine: every run starts from the persisted state and executes step
// handlers in order until one of them cannot advance.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexjbarnes/dav-sync/internal/assets"
	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

// protocolVersion is the protocol version announced to the operator's
// service when the migration starts.
const protocolVersion = 2

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Account string
	State   *state.State

	Keys          KeyMaterial
	KeyCollection KeyCollection

	// Calendars and Addressbooks are the plain remote stores; Hiding
	// builds their metadata-hiding counterparts.
	Calendars    RemoteCollections
	Addressbooks RemoteCollections
	Hiding       HidingStores

	CalendarSync    SyncCoordinator
	AddressbookSync SyncCoordinator

	// Protocol is nil unless the account lives on the operator's own
	// service.
	Protocol ProtocolUpgrader

	Notifier  Notifier
	Publisher Publisher
	Observer  Observer
	Theme     assets.Theme
	Logger    *slog.Logger

	// OnComplete runs every time the terminal state is observed.
	OnComplete func()
}

// Orchestrator drives the migration of one account. RunOnce calls are
// serialized; the orchestrator holds no state between runs beyond what
// is persisted.
type Orchestrator struct {
	account       string
	state         *state.State
	keys          KeyMaterial
	keyCollection KeyCollection
	calendars     RemoteCollections
	addressbooks  RemoteCollections
	hiding        HidingStores
	calSync       SyncCoordinator
	abSync        SyncCoordinator
	protocol      ProtocolUpgrader
	notifier      Notifier
	publisher     Publisher
	observer      Observer
	theme         assets.Theme
	logger        *slog.Logger
	onComplete    func()

	now func() time.Time

	mu sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	return &Orchestrator{
		account:       cfg.Account,
		state:         cfg.State,
		keys:          cfg.Keys,
		keyCollection: cfg.KeyCollection,
		calendars:     cfg.Calendars,
		addressbooks:  cfg.Addressbooks,
		hiding:        cfg.Hiding,
		calSync:       cfg.CalendarSync,
		abSync:        cfg.AddressbookSync,
		protocol:      cfg.Protocol,
		notifier:      notifier,
		publisher:     cfg.Publisher,
		observer:      cfg.Observer,
		theme:         cfg.Theme,
		logger:        logger.With(slog.String("component", "migration"), slog.String("account", cfg.Account)),
		onComplete:    cfg.OnComplete,
		now:           time.Now,
	}
}

// outcome is what a step handler achieved.
type outcome int

const (
	// advanced means the handler committed a later state.
	advanced outcome = iota
	// halted means the handler is waiting and must be retried later.
	halted
	// reverted means the handler committed SyncedWithRemote.
	reverted
	// finished means the terminal handler ran.
	finished
)

type step struct {
	from State
	name string
	run  func(r *run, ctx context.Context) (outcome, error)
}

// steps lists the handlers in execution order, keyed by the state they
// start from.
var steps = []step{
	{None, "start", (*run).start},
	{StartedMigration, "sync_with_remote", (*run).syncWithRemote},
	{SyncedWithRemote, "delete_key_collection", (*run).deleteKeyCollection},
	{DeletedKeyCollection, "generate_keys", (*run).generateKeys},
	{GeneratedNewKeys, "replace_key_collection", (*run).replaceKeyCollection},
	{ReplacedKeyCollection, "replace_keys", (*run).replaceKeys},
	{ReplacedKeys, "delete_remote_collections", (*run).deleteRemoteCollections},
	{DeletedRemoteCollections, "replace_calendars", (*run).replaceCalendars},
	{ReplacedRemoteCalendars, "replace_addressbooks", (*run).replaceAddressbooks},
	{ReplacedRemoteAddressbooks, "queue_records", (*run).queueRecords},
	{ReadyToReplaceRecords, "replace_records", (*run).replaceRecords},
	{ReplacedRecords, "mark_complete", (*run).markComplete},
	{MigrationComplete, "complete", (*run).complete},
}

func stepFor(s State) (step, bool) {
	for _, st := range steps {
		if st.from == s {
			return st, true
		}
	}

	return step{}, false
}

// run is the context of one RunOnce invocation.
type run struct {
	o      *Orchestrator
	logger *slog.Logger
	m      state.Migration
}

// Current returns the persisted state.
func (o *Orchestrator) Current() (State, error) {
	m, err := o.state.Migration(o.account)
	if err != nil {
		return None, err
	}

	return State(m.State), nil
}

// UIDisabled reports whether user-initiated mutation must be blocked.
func (o *Orchestrator) UIDisabled() (bool, error) {
	m, err := o.state.Migration(o.account)
	if err != nil {
		return false, err
	}

	return m.UIDisabled, nil
}

// RunOnce executes step handlers from the persisted state until one
// does not advance. Failures are logged and leave the state untouched;
// nothing propagates to the caller.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.observer != nil {
		o.observer.Run(o.account)
	}

	r := &run{o: o, logger: o.logger.With(slog.String("run_id", uuid.NewString()))}

	m, err := o.state.Migration(o.account)
	if err != nil {
		r.logger.Error("reading migration state", slog.String("error", err.Error()))
		return
	}

	r.m = m

	for {
		cur := r.current()

		s, ok := stepFor(cur)
		if !ok {
			r.logger.Error("unknown migration state", slog.Int("state", int(cur)))
			return
		}

		out, err := s.run(r, ctx)
		if err != nil {
			r.stepFailed(s, err)
			return
		}

		if out != advanced {
			return
		}

		if r.current() <= cur {
			r.logger.Error("step reported progress without advancing",
				slog.String("step", s.name),
				slog.String("state", cur.String()),
			)

			return
		}
	}
}

func (r *run) stepFailed(s step, err error) {
	transient := apperrors.IsTransient(err)

	if transient {
		r.logger.Warn("migration step blocked, will retry",
			slog.String("step", s.name),
			slog.String("state", s.from.String()),
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.Error("migration step failed, will retry",
			slog.String("step", s.name),
			slog.String("state", s.from.String()),
			slog.String("error", err.Error()),
		)
	}

	if r.o.observer != nil {
		r.o.observer.StepFailed(s.name, transient)
	}
}

func (r *run) current() State {
	return State(r.m.State)
}

// save persists the in-memory record without changing the state.
func (r *run) save() error {
	if err := r.o.state.CommitMigration(r.o.account, r.m); err != nil {
		return fmt.Errorf("persisting migration state: %w", err)
	}

	return nil
}

// commit persists the record at state to. Watermark and flag changes
// made to r.m beforehand are committed in the same transaction.
func (r *run) commit(to State) error {
	prev := r.m
	r.m.State = int(to)

	if err := r.save(); err != nil {
		r.m = prev
		return err
	}

	r.logger.Info("migration state committed", slog.String("state", to.String()))

	r.o.notifier.Progress(r.o.account, to)

	if r.o.observer != nil {
		r.o.observer.MigrationState(r.o.account, int(to))
	}

	return nil
}

// revert drops back to SyncedWithRemote so the next run regenerates
// keys from scratch. Engines are paused until the records wait step
// enables them again.
func (r *run) revert(reason string) (outcome, error) {
	r.logger.Error("reverting migration", slog.String("from", r.current().String()), slog.String("reason", reason))

	r.o.setEnginesEnabled(false)
	r.o.calSync.CancelPendingSyncs(r.o.account)
	r.o.abSync.CancelPendingSyncs(r.o.account)

	r.m.FirstCalendarSyncAt = nil
	r.m.FirstAddressbookSyncAt = nil

	if err := r.commit(SyncedWithRemote); err != nil {
		return halted, err
	}

	if r.o.observer != nil {
		r.o.observer.Reverted(r.o.account)
	}

	return reverted, nil
}

func (o *Orchestrator) setEnginesEnabled(enabled bool) {
	o.calSync.SetSyncEnabled(o.account, enabled)
	o.abSync.SetSyncEnabled(o.account, enabled)
}
