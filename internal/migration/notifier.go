package migration

import (
	"log/slog"
	"strings"
	"sync"
)

var progressText = map[State]string{
	None:                       "Not started",
	StartedMigration:           "Waiting for pending changes to sync",
	SyncedWithRemote:           "Removing old key material",
	DeletedKeyCollection:       "Generating new keys",
	GeneratedNewKeys:           "Creating key storage",
	ReplacedKeyCollection:      "Uploading new keys",
	ReplacedKeys:               "Removing collections with visible names",
	DeletedRemoteCollections:   "Recreating calendars",
	ReplacedRemoteCalendars:    "Recreating address books",
	ReplacedRemoteAddressbooks: "Queueing records for re-encryption",
	ReadyToReplaceRecords:      "Re-encrypting records",
	ReplacedRecords:            "Finishing up",
	MigrationComplete:          "Encryption upgrade complete",
}

// ProgressText renders a state as a short human-readable description.
func ProgressText(s State) string {
	if t, ok := progressText[s]; ok {
		return t
	}

	return s.String()
}

// LogNotifier renders progress into the log. The auto-sync notice is
// emitted once until progress is made again.
type LogNotifier struct {
	logger *slog.Logger

	mu              sync.Mutex
	autoSyncNotices map[string]bool
}

// NewLogNotifier creates a notifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{
		logger:          logger.With(slog.String("component", "notifier")),
		autoSyncNotices: make(map[string]bool),
	}
}

func (n *LogNotifier) Progress(account string, s State) {
	n.mu.Lock()
	delete(n.autoSyncNotices, account)
	n.mu.Unlock()

	n.logger.Info(ProgressText(s),
		slog.String("account", account),
		slog.String("state", s.String()),
	)
}

func (n *LogNotifier) AutoSyncDisabled(account string) {
	n.mu.Lock()
	seen := n.autoSyncNotices[account]
	n.autoSyncNotices[account] = true
	n.mu.Unlock()

	if seen {
		return
	}

	n.logger.Warn("Enable automatic sync to continue the encryption upgrade", slog.String("account", account))
}

func (n *LogNotifier) ReleaseNotes(version string, notes []string) {
	n.logger.Info("What's new in "+version, slog.String("notes", strings.Join(notes, "\n")))
}

func (n *LogNotifier) Complete(account string) {
	n.logger.Debug(ProgressText(MigrationComplete), slog.String("account", account))
}
