package domain

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of a processing session.
type SessionState string

const (
	SessionPending SessionState = "pending"
	SessionRunning SessionState = "running"
	SessionDone    SessionState = "done"
	SessionFailed  SessionState = "failed"
)

// Terminal reports whether no further work will happen without a retry.
func (s SessionState) Terminal() bool {
	return s == SessionDone || s == SessionFailed
}

var sessionTransitions = map[SessionState][]SessionState{
	SessionPending: {SessionRunning, SessionFailed},
	SessionRunning: {SessionDone, SessionFailed},
	SessionFailed:  {SessionPending},
	SessionDone:    {SessionPending},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to SessionState) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ProcessingSession tracks one assemble-and-enrich run.
type ProcessingSession struct {
	ID          string       `json:"id"`
	Workspace   string       `json:"workspace"`
	SelectedIDs []string     `json:"selected_ids"`
	State       SessionState `json:"state"`
	Reason      string       `json:"reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Transition moves the session to a new state in place.
func (s *ProcessingSession) Transition(to SessionState, reason string, at time.Time) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: session %s cannot go from %s to %s", ErrSessionConflict, s.ID, s.State, to)
	}
	s.State = to
	s.Reason = ""
	if to == SessionFailed {
		s.Reason = reason
	}
	s.UpdatedAt = at
	return nil
}

// SessionEvent is published whenever a session changes state.
type SessionEvent struct {
	SessionID string       `json:"session_id"`
	Workspace string       `json:"workspace"`
	State     SessionState `json:"state"`
	Reason    string       `json:"reason,omitempty"`
	Stage     string       `json:"stage,omitempty"`
	At        time.Time    `json:"at"`
}

// ArtifactEvent is published whenever a pipeline stage persists an artifact.
type ArtifactEvent struct {
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Features  int       `json:"features"`
	At        time.Time `json:"at"`
}

// LayerResult describes one successfully fetched, non-empty layer.
type LayerResult struct {
	Layer    string `json:"layer"`
	Role     string `json:"role"`
	Features int    `json:"features"`
	Artifact string `json:"artifact"`
}

// Weather is the current weather at a point.
type Weather struct {
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	WindSpeed   float64 `json:"windSpeed"`
	Humidity    int     `json:"humidity"`
}
