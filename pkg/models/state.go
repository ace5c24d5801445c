package models

import (
	"encoding/json"
	"fmt"
)

// StateKind enumerates connector handshake states.
type StateKind string

const (
	StateIdle             StateKind = "idle"
	StateConnecting       StateKind = "connecting"
	StateAwaitingApproval StateKind = "awaiting_approval"
	StateRequestingPIN    StateKind = "requesting_pin"
	StateWaitingForPIN    StateKind = "waiting_for_pin"
	StateVerifyingPIN     StateKind = "verifying_pin"
	StateConnected        StateKind = "connected"
	StateFailed           StateKind = "failed"
)

// ConnectorState is the state of an in-progress or established connection.
// Detail carries the step description for connecting and the reason for failed.
type ConnectorState struct {
	Kind   StateKind `json:"state"`
	Detail string    `json:"detail,omitempty"`
}

func Idle() ConnectorState                  { return ConnectorState{Kind: StateIdle} }
func Connecting(step string) ConnectorState { return ConnectorState{Kind: StateConnecting, Detail: step} }
func AwaitingApproval() ConnectorState      { return ConnectorState{Kind: StateAwaitingApproval} }
func RequestingPIN() ConnectorState         { return ConnectorState{Kind: StateRequestingPIN} }
func WaitingForPIN() ConnectorState         { return ConnectorState{Kind: StateWaitingForPIN} }
func VerifyingPIN() ConnectorState          { return ConnectorState{Kind: StateVerifyingPIN} }
func Connected() ConnectorState             { return ConnectorState{Kind: StateConnected} }
func Failed(reason string) ConnectorState   { return ConnectorState{Kind: StateFailed, Detail: reason} }

// Message returns the user-facing description of the state.
func (s ConnectorState) Message() string {
	switch s.Kind {
	case StateIdle:
		return "Ready to connect"
	case StateConnecting:
		if s.Detail == "" {
			return "Connecting..."
		}
		return s.Detail
	case StateAwaitingApproval:
		return "Confirm the connection on your TV"
	case StateRequestingPIN:
		return "Requesting PIN from TV..."
	case StateWaitingForPIN:
		return "Enter the PIN shown on your TV"
	case StateVerifyingPIN:
		return "Verifying PIN..."
	case StateConnected:
		return "Connected"
	case StateFailed:
		if s.Detail == "" {
			return "Connection failed"
		}
		return s.Detail
	default:
		return string(s.Kind)
	}
}

// IsConnecting reports whether a handshake is actively in progress.
func (s ConnectorState) IsConnecting() bool {
	switch s.Kind {
	case StateConnecting, StateRequestingPIN, StateVerifyingPIN:
		return true
	default:
		return false
	}
}

// IsPending reports whether the handshake is blocked on the user.
func (s ConnectorState) IsPending() bool {
	return s.Kind == StateAwaitingApproval || s.Kind == StateWaitingForPIN
}

func (s ConnectorState) String() string {
	if s.Detail == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Detail)
}

// StatusKind enumerates the coarse connection status seen by collaborators.
type StatusKind string

const (
	StatusDisconnected         StatusKind = "disconnected"
	StatusSearching            StatusKind = "searching"
	StatusConnecting           StatusKind = "connecting"
	StatusAwaitingConfirmation StatusKind = "awaiting_confirmation"
	StatusAwaitingPIN          StatusKind = "awaiting_pin"
	StatusConnected            StatusKind = "connected"
	StatusError                StatusKind = "error"
)

// ConnectionStatus is the projection of ConnectorState exposed outside the core.
type ConnectionStatus struct {
	Kind    StatusKind
	Message string
}

var (
	Disconnected = ConnectionStatus{Kind: StatusDisconnected}
	Searching    = ConnectionStatus{Kind: StatusSearching}
)

// StatusErr returns an error status carrying msg.
func StatusErr(msg string) ConnectionStatus {
	return ConnectionStatus{Kind: StatusError, Message: msg}
}

// StatusFor projects a connector state onto a connection status.
func StatusFor(s ConnectorState) ConnectionStatus {
	switch s.Kind {
	case StateIdle:
		return ConnectionStatus{Kind: StatusDisconnected}
	case StateConnecting, StateVerifyingPIN:
		return ConnectionStatus{Kind: StatusConnecting}
	case StateAwaitingApproval:
		return ConnectionStatus{Kind: StatusAwaitingConfirmation}
	case StateRequestingPIN, StateWaitingForPIN:
		return ConnectionStatus{Kind: StatusAwaitingPIN}
	case StateConnected:
		return ConnectionStatus{Kind: StatusConnected}
	case StateFailed:
		return StatusErr(s.Message())
	default:
		return ConnectionStatus{Kind: StatusDisconnected}
	}
}

// Text returns the user-facing description of the status.
func (s ConnectionStatus) Text() string {
	switch s.Kind {
	case StatusDisconnected:
		return "Not connected"
	case StatusSearching:
		return "Searching for TVs..."
	case StatusConnecting:
		return "Connecting..."
	case StatusAwaitingConfirmation:
		return "Please confirm on your TV"
	case StatusAwaitingPIN:
		return "Enter the PIN shown on your TV"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return s.Message
	default:
		return string(s.Kind)
	}
}

func (s ConnectionStatus) IsConnected() bool   { return s.Kind == StatusConnected }
func (s ConnectionStatus) IsAwaitingPIN() bool { return s.Kind == StatusAwaitingPIN }

func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  StatusKind `json:"status"`
		Message string     `json:"message"`
	}{s.Kind, s.Text()})
}

func (s *ConnectionStatus) UnmarshalJSON(b []byte) error {
	var v struct {
		Status  StatusKind `json:"status"`
		Message string     `json:"message"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = ConnectionStatus{Kind: v.Status}
	if v.Status == StatusError {
		s.Message = v.Message
	}
	return nil
}
