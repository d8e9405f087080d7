package scanner

import (
	"context"

	"github.com/harrylevesque/equipscan/internal/models"
)

// Inventory is the record service a session talks to.
type Inventory interface {
	Lookup(ctx context.Context, q models.LookupQuery) (*models.LookupResult, error)
	Borrow(ctx context.Context, id string) (*models.Action, error)
	Return(ctx context.Context, id string) (*models.Action, error)
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Notifier shows short messages to the operator. Delivery is best-effort.
type Notifier interface {
	Notify(sev Severity, message string)
}

// Navigator moves the operator's view.
type Navigator interface {
	OpenRecord(id string)
	Follow(action *models.Action)
	CloseScanner()
}

type Cue string

const (
	CueSuccess Cue = "success"
	CueError   Cue = "error"
)

// CuePlayer plays audible cues. Errors are ignored by the session.
type CuePlayer interface {
	Play(cue Cue) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(Severity, string) {}

type nopNavigator struct{}

func (nopNavigator) OpenRecord(string)     {}
func (nopNavigator) Follow(*models.Action) {}
func (nopNavigator) CloseScanner()         {}

type nopCues struct{}

func (nopCues) Play(Cue) error { return nil }
