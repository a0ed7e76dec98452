package migration

import (
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/dav-sync/internal/state"
)

// Kickable queues an orchestrator run.
type Kickable interface {
	Kick()
}

// UpgradeTrigger fires once per installed application version.
type UpgradeTrigger struct {
	state        *state.State
	kicker       Kickable
	notifier     Notifier
	releaseNotes func(version string) []string
	operatorHost bool
	logger       *slog.Logger
}

// NewUpgradeTrigger creates a trigger. operatorHost is true when the
// account lives on the operator's own service, where release notes are
// delivered by other means.
func NewUpgradeTrigger(st *state.State, kicker Kickable, notifier Notifier, releaseNotes func(string) []string, operatorHost bool, logger *slog.Logger) *UpgradeTrigger {
	if logger == nil {
		logger = slog.Default()
	}

	return &UpgradeTrigger{
		state:        st,
		kicker:       kicker,
		notifier:     notifier,
		releaseNotes: releaseNotes,
		operatorHost: operatorHost,
		logger:       logger.With(slog.String("component", "upgrade")),
	}
}

// HandleUpgrade records version and, the first time it is seen,
// surfaces release notes and kicks the orchestrator.
func (u *UpgradeTrigger) HandleUpgrade(version string) error {
	if u.state.AppVersion() != version {
		u.logger.Info("application version changed",
			slog.String("from", u.state.AppVersion()),
			slog.String("to", version),
		)

		if err := u.state.SetUpdateHandled(false); err != nil {
			return fmt.Errorf("resetting update flag: %w", err)
		}

		if err := u.state.SetAppVersion(version); err != nil {
			return fmt.Errorf("recording app version: %w", err)
		}
	}

	if u.state.UpdateHandled() {
		return nil
	}

	if !u.operatorHost && u.releaseNotes != nil {
		if notes := u.releaseNotes(version); len(notes) > 0 {
			u.notifier.ReleaseNotes(version, notes)
		}
	}

	u.kicker.Kick()

	if err := u.state.SetUpdateHandled(true); err != nil {
		return fmt.Errorf("recording update handled: %w", err)
	}

	return nil
}
