package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/trailkit/internal/adapters/nats"
	"github.com/samirrijal/trailkit/internal/pkg/metrics"
)

const wsPingInterval = 30 * time.Second

// wsMessage is sent by clients to change which event feeds they receive.
type wsMessage struct {
	Action    string `json:"action"`    // "subscribe" | "unsubscribe"
	Session   string `json:"session"`   // session id filter ("" = all sessions)
	Workspace string `json:"workspace"` // workspace filter for the artifacts channel
	Channel   string `json:"channel"`   // "sessions" | "artifacts" (default: sessions)
}

// wsReply acknowledges a client message.
type wsReply struct {
	Status  string `json:"status,omitempty"`
	Subject string `json:"subject,omitempty"`
	Error   string `json:"error,omitempty"`
}

// wsSubject maps a client request onto a NATS subject.
func wsSubject(m wsMessage) (string, bool) {
	switch m.Channel {
	case "", "sessions":
		if m.Session != "" {
			return natsadapter.SessionSubjectPrefix + m.Session, true
		}
		return natsadapter.SessionSubjects, true
	case "artifacts":
		if m.Workspace != "" {
			return natsadapter.ArtifactSubjectPrefix + m.Workspace + ".>", true
		}
		return natsadapter.ArtifactSubjectPrefix + ">", true
	}
	return "", false
}

// eventRelay forwards NATS messages to one WebSocket client. Writes are
// serialized because NATS callbacks and the ping loop share the connection.
type eventRelay struct {
	conn *websocket.Conn
	nc   *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func (r *eventRelay) write(messageType int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.WriteMessage(messageType, data)
}

func (r *eventRelay) reply(v wsReply) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = r.write(websocket.TextMessage, data)
}

func (r *eventRelay) forward(msg *nats.Msg) {
	_ = r.write(websocket.TextMessage, msg.Data)
}

func (r *eventRelay) subscribe(subject string) error {
	if _, ok := r.subs[subject]; ok {
		return nil
	}
	sub, err := r.nc.Subscribe(subject, r.forward)
	if err != nil {
		return err
	}
	r.subs[subject] = sub
	return nil
}

func (r *eventRelay) unsubscribe(subject string) bool {
	sub, ok := r.subs[subject]
	if !ok {
		return false
	}
	_ = sub.Unsubscribe()
	delete(r.subs, subject)
	return true
}

func (r *eventRelay) close() {
	for subject := range r.subs {
		r.unsubscribe(subject)
	}
}

// pingLoop keeps idle connections open until done is closed.
func (r *eventRelay) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (r *eventRelay) handle(m wsMessage) wsReply {
	subject, ok := wsSubject(m)
	if !ok {
		return wsReply{Error: "unknown channel: " + m.Channel}
	}
	switch m.Action {
	case "subscribe":
		if err := r.subscribe(subject); err != nil {
			return wsReply{Error: "subscribe failed: " + err.Error()}
		}
		return wsReply{Status: "subscribed", Subject: subject}
	case "unsubscribe":
		if !r.unsubscribe(subject) {
			return wsReply{Error: "not subscribed to " + subject}
		}
		return wsReply{Status: "unsubscribed", Subject: subject}
	}
	return wsReply{Error: "unknown action: " + m.Action}
}

// WebSocketHandler relays pipeline events from NATS to connected clients.
// Every client starts subscribed to all session events; ?session=<id>
// narrows that to one session. Clients send JSON such as
// {"action":"subscribe","channel":"artifacts","workspace":"ws1"}.
func WebSocketHandler(nc *nats.Conn) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		relay := &eventRelay{conn: c, nc: nc, subs: make(map[string]*nats.Subscription)}
		if nc == nil {
			relay.reply(wsReply{Error: "event stream unavailable"})
			return
		}

		remote := c.RemoteAddr().String()
		subject, _ := wsSubject(wsMessage{Session: c.Query("session")})
		if err := relay.subscribe(subject); err != nil {
			slog.Error("ws default subscribe failed", "subject", subject, "error", err)
			return
		}
		defer relay.close()
		slog.Info("ws client connected", "remote", remote, "subject", subject)

		done := make(chan struct{})
		defer close(done)
		go relay.pingLoop(done)

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				break
			}
			var m wsMessage
			if err := json.Unmarshal(data, &m); err != nil {
				relay.reply(wsReply{Error: "invalid JSON"})
				continue
			}
			relay.reply(relay.handle(m))
		}
		slog.Info("ws client disconnected", "remote", remote)
	}
}
