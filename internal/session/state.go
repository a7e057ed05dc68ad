package session

import (
	"errors"
	"fmt"

	"signalpulse/models"
)

// State is the lifecycle position of a scan session.
type State string

const (
	StateIdle            State = "IDLE"
	StateFetchingSymbols State = "FETCHING_SYMBOLS"
	StateScanning        State = "SCANNING"
	StateError           State = "ERROR"
)

// Busy reports whether a request is in flight in this state.
func (s State) Busy() bool {
	return s == StateFetchingSymbols || s == StateScanning
}

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notice is the user-facing message attached to the session.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

const (
	MsgScanFailed     = "Scan execution failed."
	MsgNoSetups       = "No setups found matching current criteria."
	MsgStaticFallback = "Symbol listing unavailable, scanning the static list."
)

var (
	// ErrScanInFlight rejects a scan while another request is running.
	ErrScanInFlight = errors.New("scan already in flight")
	// ErrSuperseded is returned to the caller whose response arrived after a
	// venue switch. The response was discarded.
	ErrSuperseded = errors.New("request superseded by venue switch")
	// ErrClosed is returned by a controller evicted from its registry.
	ErrClosed = errors.New("session closed")
)

// fetchMessage renders a symbol fetch failure for display.
func fetchMessage(err error, source string) string {
	if errors.Is(err, models.ErrEmptyPayload) {
		return fmt.Sprintf("Could not fetch assets from %s. Empty response.", source)
	}
	var be *models.BackendError
	if errors.As(err, &be) {
		return "Fetch Error: " + be.Message
	}
	var fe *models.FetchError
	if errors.As(err, &fe) {
		return "Fetch Error: " + fe.Err.Error()
	}
	return "Fetch Error: " + err.Error()
}
