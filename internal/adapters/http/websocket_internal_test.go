package http

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestWSSubject(t *testing.T) {
	tests := []struct {
		msg  wsMessage
		want string
		ok   bool
	}{
		{wsMessage{}, "trailkit.session.>", true},
		{wsMessage{Session: "s1"}, "trailkit.session.s1", true},
		{wsMessage{Channel: "artifacts"}, "trailkit.artifact.>", true},
		{wsMessage{Channel: "artifacts", Workspace: "ws1"}, "trailkit.artifact.ws1.>", true},
		{wsMessage{Channel: "vehicles"}, "", false},
	}
	for _, tt := range tests {
		got, ok := wsSubject(tt.msg)
		if got != tt.want || ok != tt.ok {
			t.Errorf("wsSubject(%+v) = %q, %v; want %q, %v", tt.msg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEventRelayHandle_Rejects(t *testing.T) {
	r := &eventRelay{subs: make(map[string]*nats.Subscription)}

	if got := r.handle(wsMessage{Action: "subscribe", Channel: "vehicles"}); got.Error != "unknown channel: vehicles" {
		t.Errorf("unexpected reply %+v", got)
	}
	if got := r.handle(wsMessage{Action: "unsubscribe", Session: "s1"}); got.Error != "not subscribed to trailkit.session.s1" {
		t.Errorf("unexpected reply %+v", got)
	}
	if got := r.handle(wsMessage{Action: "replay"}); got.Error != "unknown action: replay" {
		t.Errorf("unexpected reply %+v", got)
	}
}
