package natsadapter

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// Subjects.
const (
	SessionSubjectPrefix  = "trailkit.session."
	ArtifactSubjectPrefix = "trailkit.artifact."
	SessionSubjects       = SessionSubjectPrefix + ">"
	StreamName            = "TRAILKIT_EVENTS"
)

// EncodeSessionEvent renders a session event as protobuf JSON.
func EncodeSessionEvent(ev *domain.SessionEvent) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"session_id": ev.SessionID,
		"workspace":  ev.Workspace,
		"state":      string(ev.State),
		"reason":     ev.Reason,
		"stage":      ev.Stage,
		"at":         ev.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode session event: %w", err)
	}
	return protojson.Marshal(s)
}

// DecodeSessionEvent parses an event written by EncodeSessionEvent.
func DecodeSessionEvent(data []byte) (*domain.SessionEvent, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session event: %w", err)
	}
	f := s.GetFields()
	ev := &domain.SessionEvent{
		SessionID: f["session_id"].GetStringValue(),
		Workspace: f["workspace"].GetStringValue(),
		State:     domain.SessionState(f["state"].GetStringValue()),
		Reason:    f["reason"].GetStringValue(),
		Stage:     f["stage"].GetStringValue(),
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("decode session event: missing session_id")
	}
	if at := f["at"].GetStringValue(); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("decode session event: %w", err)
		}
		ev.At = t
	}
	return ev, nil
}

// EncodeArtifactEvent renders an artifact event as protobuf JSON.
func EncodeArtifactEvent(ev *domain.ArtifactEvent) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"namespace": ev.Namespace,
		"name":      ev.Name,
		"features":  ev.Features,
		"at":        ev.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode artifact event: %w", err)
	}
	return protojson.Marshal(s)
}
