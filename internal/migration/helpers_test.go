package migration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/dav-sync/internal/assets"
	"github.com/alexjbarnes/dav-sync/internal/dav"
	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
	"github.com/alexjbarnes/dav-sync/internal/events"
	"github.com/alexjbarnes/dav-sync/internal/keys"
	"github.com/alexjbarnes/dav-sync/internal/state"
)

const (
	testAccount = "alex@dav.example.org"
	workCal     = "/calendars/alex/work/"
	homeCal     = "/calendars/alex/home/"
	familyBook  = "/addressbooks/alex/family/"
	testNow     = int64(1_700_000_000_000)
)

var errTransient = &apperrors.TransientError{Err: fmt.Errorf("connection reset")}

func testState(t *testing.T) *state.State {
	t.Helper()
	s, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v int64) *int64 { return &v }

// --- fakeKeys ---

type fakeKeys struct {
	mu          sync.Mutex
	compat      bool
	material    *state.KeyMaterial
	generations int
	generateErr error
}

func (f *fakeKeys) SetLegacyCompat(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compat = on
	return nil
}

func (f *fakeKeys) Generate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generateErr != nil {
		return f.generateErr
	}
	f.generations++
	f.material = &state.KeyMaterial{
		Version:      keys.VersionCollection,
		Salt:         fmt.Sprintf("salt-%d", f.generations),
		EncryptedKey: fmt.Sprintf("wrapped-%d", f.generations),
	}
	return nil
}

func (f *fakeKeys) Material() (*state.KeyMaterial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.material == nil {
		return nil, apperrors.ErrKeyMaterialMissing
	}
	km := *f.material
	return &km, nil
}

func (f *fakeKeys) Cipher() (*keys.Cipher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.material == nil {
		return nil, apperrors.ErrKeyMaterialMissing
	}
	return keys.NewCipher(bytes.Repeat([]byte{byte(f.generations)}, 32), f.compat)
}

// --- fakeCoordinator ---

type fakeCoordinator struct {
	mu        sync.Mutex
	lastSync  *int64
	inFlight  bool
	enabled   bool
	requested int
	cancelled int
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{enabled: true}
}

func (f *fakeCoordinator) RequestSync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested++
}

func (f *fakeCoordinator) TimeLastSync() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSync == nil {
		return 0, false
	}
	return *f.lastSync, true
}

func (f *fakeCoordinator) SyncInProgress(account string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return account == testAccount && f.inFlight
}

func (f *fakeCoordinator) SetSyncEnabled(account string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account == testAccount {
		f.enabled = enabled
	}
}

func (f *fakeCoordinator) CancelPendingSyncs(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	f.requested = 0
}

// completePendingPass simulates the engine running a requested pass and
// reports whether one ran.
func (f *fakeCoordinator) completePendingPass(ts int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requested > 0 && f.enabled {
		f.lastSync = ptr(ts)
		f.requested = 0
		return true
	}
	return false
}

func (f *fakeCoordinator) isEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// --- fakeKeyCollection ---

type fakeKeyCollection struct {
	mu       sync.Mutex
	exists   bool
	salt     string
	enc      string
	started  bool
	complete bool
	fail     error
}

func (f *fakeKeyCollection) err() error { return f.fail }

func (f *fakeKeyCollection) Lookup(context.Context) (*dav.KeyCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return nil, err
	}
	if !f.exists {
		return nil, nil
	}
	return &dav.KeyCollection{Salt: f.salt, EncryptedKeyMaterial: f.enc, MigrationStarted: f.started, MigrationComplete: f.complete}, nil
}

func (f *fakeKeyCollection) Create(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	if f.exists {
		return apperrors.ErrForbidden
	}
	f.exists = true
	return nil
}

func (f *fakeKeyCollection) Delete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	if !f.exists {
		return apperrors.ErrNotFound
	}
	f.exists, f.started, f.complete = false, false, false
	f.salt, f.enc = "", ""
	return nil
}

func (f *fakeKeyCollection) SetKeyMaterial(_ context.Context, salt, enc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	if !f.exists {
		return apperrors.ErrNotFound
	}
	f.salt, f.enc = salt, enc
	return nil
}

func (f *fakeKeyCollection) SetMigrationStarted(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	if !f.exists {
		return apperrors.ErrNotFound
	}
	f.started = true
	return nil
}

func (f *fakeKeyCollection) SetMigrationComplete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err(); err != nil {
		return err
	}
	if !f.exists {
		return apperrors.ErrNotFound
	}
	f.complete = true
	return nil
}

// --- fakeRemote ---

type remoteCollection struct {
	dav.Collection
	hidden bool
}

// fakeRemote models one collection home on the server. The plain and
// hiding views share it.
type fakeRemote struct {
	mu      sync.Mutex
	cols    map[string]remoteCollection
	addErrs map[string]error
	fail    error
	adds    int
}

func newFakeRemote(paths ...string) *fakeRemote {
	f := &fakeRemote{cols: make(map[string]remoteCollection), addErrs: make(map[string]error)}
	for _, p := range paths {
		f.cols[p] = remoteCollection{Collection: dav.Collection{Path: p}}
	}
	return f
}

func (f *fakeRemote) List(context.Context) ([]dav.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []dav.Collection
	for _, c := range f.cols {
		out = append(out, c.Collection)
	}
	return out, nil
}

func (f *fakeRemote) add(c dav.Collection, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if err := f.addErrs[c.Path]; err != nil {
		return err
	}
	if _, ok := f.cols[c.Path]; ok {
		return apperrors.ErrForbidden
	}
	f.adds++
	f.cols[c.Path] = remoteCollection{Collection: c, hidden: hidden}
	return nil
}

func (f *fakeRemote) Add(_ context.Context, c dav.Collection) error {
	return f.add(c, false)
}

func (f *fakeRemote) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.cols[path]; !ok {
		return apperrors.ErrNotFound
	}
	delete(f.cols, path)
	return nil
}

func (f *fakeRemote) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p, c := range f.cols {
		out = append(out, fmt.Sprintf("%s hidden=%t name=%q color=%q", p, c.hidden, c.DisplayName, c.Color))
	}
	sort.Strings(out)
	return out
}

type hidingView struct {
	*fakeRemote
}

func (h hidingView) Add(_ context.Context, c dav.Collection) error {
	return h.add(c, true)
}

// --- fakeNotifier / fakeObserver ---

type fakeNotifier struct {
	mu               sync.Mutex
	progress         []State
	autoSyncDisabled int
	releaseNotes     []string
	completes        int
}

func (f *fakeNotifier) Progress(_ string, s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, s)
}

func (f *fakeNotifier) AutoSyncDisabled(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoSyncDisabled++
}

func (f *fakeNotifier) ReleaseNotes(version string, _ []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseNotes = append(f.releaseNotes, version)
}

func (f *fakeNotifier) Complete(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
}

type fakeObserver struct {
	mu       sync.Mutex
	states   []int
	failures []string
	reverts  int
	runs     int
}

func (f *fakeObserver) MigrationState(_ string, s int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

func (f *fakeObserver) StepFailed(step string, transient bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, fmt.Sprintf("%s transient=%t", step, transient))
}

func (f *fakeObserver) Reverted(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts++
}

func (f *fakeObserver) Run(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
}

// --- harness ---

type harness struct {
	st        *state.State
	keys      *fakeKeys
	kc        *fakeKeyCollection
	cals      *fakeRemote
	books     *fakeRemote
	calSync   *fakeCoordinator
	abSync    *fakeCoordinator
	notifier  *fakeNotifier
	observer  *fakeObserver
	events    <-chan events.Event
	clock     int64
	completed int
	orch      *Orchestrator
}

// newHarness builds an account with legacy key material, two calendars
// and one addressbook cached locally and present remotely.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		st:       testState(t),
		keys:     &fakeKeys{material: &state.KeyMaterial{Version: keys.VersionLegacy, Salt: "legacy", EncryptedKey: "check"}},
		kc:       &fakeKeyCollection{exists: true, salt: "legacy", enc: "check"},
		cals:     newFakeRemote(workCal, homeCal),
		books:    newFakeRemote(familyBook),
		calSync:  newFakeCoordinator(),
		abSync:   newFakeCoordinator(),
		notifier: &fakeNotifier{},
		observer: &fakeObserver{},
		clock:    testNow,
	}

	require.NoError(t, h.st.PutCollection(testAccount, state.KindCalendar, state.Collection{Path: workCal, DisplayName: "Work", Color: "#ff0000"}))
	require.NoError(t, h.st.PutCollection(testAccount, state.KindCalendar, state.Collection{Path: homeCal, DisplayName: "Home"}))
	require.NoError(t, h.st.PutCollection(testAccount, state.KindAddressbook, state.Collection{Path: familyBook, DisplayName: "Family"}))
	require.NoError(t, h.st.PutRecord(testAccount, workCal, state.Record{Href: workCal + "a.ics", ETag: "1", Data: []byte("a")}))
	require.NoError(t, h.st.PutRecord(testAccount, familyBook, state.Record{Href: familyBook + "b.vcf", ETag: "2", Data: []byte("b")}))

	bus := events.NewBus()
	ch, cancel := bus.Subscribe(64)
	t.Cleanup(cancel)
	h.events = ch

	h.orch = h.newOrchestrator(bus)

	return h
}

func (h *harness) newOrchestrator(pub Publisher) *Orchestrator {
	o := New(Config{
		Account:       testAccount,
		State:         h.st,
		Keys:          h.keys,
		KeyCollection: h.kc,
		Calendars:     h.cals,
		Addressbooks:  h.books,
		Hiding: func(dav.Hider) (RemoteCollections, RemoteCollections) {
			return hidingView{h.cals}, hidingView{h.books}
		},
		CalendarSync:    h.calSync,
		AddressbookSync: h.abSync,
		Notifier:        h.notifier,
		Publisher:       pub,
		Observer:        h.observer,
		Theme:           assets.Theme{CalendarColor: "#cal", AddressbookColor: "#book"},
		Logger:          discardLogger(),
		OnComplete:      func() { h.completed++ },
	})
	o.now = func() time.Time { return time.UnixMilli(h.clock) }

	return o
}

func (h *harness) forceState(t *testing.T, s State) {
	t.Helper()
	m, err := h.st.Migration(testAccount)
	require.NoError(t, err)
	m.State = int(s)
	require.NoError(t, h.st.CommitMigration(testAccount, m))
}

func (h *harness) current(t *testing.T) State {
	t.Helper()
	s, err := h.orch.Current()
	require.NoError(t, err)
	return s
}

// tick advances time and lets both engines run any requested pass. A
// pass pushes the queued records of its domain.
func (h *harness) tick() {
	h.clock += 1000
	if h.calSync.completePendingPass(h.clock) {
		h.pushQueued(state.KindCalendar)
	}
	if h.abSync.completePendingPass(h.clock) {
		h.pushQueued(state.KindAddressbook)
	}
}

func (h *harness) pushQueued(kind state.Kind) {
	cols, err := h.st.Collections(testAccount, kind)
	if err != nil {
		panic(err)
	}

	for _, c := range cols {
		recs, err := h.st.DirtyRecords(testAccount, c.Path)
		if err != nil {
			panic(err)
		}

		for _, r := range recs {
			if err := h.st.ClearDirty(testAccount, c.Path, r.Href, r.ETag+"'"); err != nil {
				panic(err)
			}
		}
	}
}

// drive kicks until the migration completes or the budget runs out.
func (h *harness) drive(t *testing.T, budget int) {
	t.Helper()
	for i := 0; i < budget; i++ {
		h.orch.RunOnce(context.Background())
		if h.current(t) == MigrationComplete && h.completed > 0 {
			return
		}
		h.tick()
	}
	t.Fatalf("migration did not complete, stuck at %s", h.current(t))
}

func (h *harness) drainEvents() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
