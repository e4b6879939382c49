package hcp

import (
	"github.com/charmbracelet/log"

	"github.com/opmodel/hcp/internal/bundle"
)

// Notifier receives the outbound notifications meant for the served
// content.
type Notifier interface {
	// NewVersionReady announces a downloaded version that becomes current
	// on the next reload.
	NewVersionReady(version, desktopVersion string)
	// VersionsCleanedUp reports the end of pruning after a successful
	// startup; err joins individual deletion failures.
	VersionsCleanedUp(err error)
	Error(msg string)
	Warn(msg string)
}

// Reloader is the host shell primitive that makes the served content
// re-fetch from a new current bundle.
type Reloader interface {
	Reload(b *bundle.Bundle)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) NewVersionReady(version, desktopVersion string) {
	n.Logger.Info("new version ready", "version", version, "desktopVersion", desktopVersion)
}

func (n LogNotifier) VersionsCleanedUp(err error) {
	if err != nil {
		n.Logger.Warn("versions cleaned up with errors", "error", err)
		return
	}
	n.Logger.Debug("versions cleaned up")
}

func (n LogNotifier) Error(msg string) {
	n.Logger.Error(msg)
}

func (n LogNotifier) Warn(msg string) {
	n.Logger.Warn(msg)
}
