package hass

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Socket maintains the Home Assistant WebSocket connection and dispatches
// state_changed events to per-entity subscribers. Events are delivered one at
// a time from the read loop, so a subscriber never sees overlapping calls.
type Socket struct {
	wsURL string
	token string
	log   *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]subscription

	cancel context.CancelFunc
	done   chan struct{}
}

type subscription struct {
	entityID string
	fn       func(oldValue, newValue string, changedAt time.Time)
}

// NewSocket creates a socket for the Home Assistant instance at baseURL
// (http or https; the websocket scheme is derived from it).
func NewSocket(baseURL, token string, log *slog.Logger) *Socket {
	ws := strings.TrimRight(baseURL, "/")
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return &Socket{
		wsURL: ws + "/api/websocket",
		token: token,
		log:   log,
		subs:  map[int]subscription{},
	}
}

// SubscribeStateChanges registers a callback for one entity's state changes.
// The returned stop function removes the subscription.
func (s *Socket) SubscribeStateChanges(entityID string, fn func(oldValue, newValue string, changedAt time.Time)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[id] = subscription{entityID: entityID, fn: fn}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

// Start opens the connection and dispatches events until Stop is called,
// reconnecting with backoff after failures.
func (s *Socket) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop closes the connection and waits for the dispatch loop to exit.
func (s *Socket) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	for {
		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("event socket disconnected, reconnecting",
			"error", err,
			"backoff", backoff.String(),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// wsMessage covers every frame shape the handshake and event stream use.
type wsMessage struct {
	ID          int      `json:"id,omitempty"`
	Type        string   `json:"type"`
	AccessToken string   `json:"access_token,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	Success     *bool    `json:"success,omitempty"`
	Event       *wsEvent `json:"event,omitempty"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string   `json:"entity_id"`
		OldState *wsState `json:"old_state"`
		NewState *wsState `json:"new_state"`
	} `json:"data"`
}

type wsState struct {
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

func (s *Socket) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := s.authenticate(ctx, conn); err != nil {
		return err
	}

	// One subscription covers all entities; dispatch filters locally.
	sub := wsMessage{ID: 1, Type: "subscribe_events", EventType: "state_changed"}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return fmt.Errorf("subscribing to state_changed: %w", err)
	}

	s.log.Info("listening for state changes", "url", s.wsURL)

	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("reading event: %w", err)
		}

		switch msg.Type {
		case "result":
			if msg.Success != nil && !*msg.Success {
				return fmt.Errorf("subscription rejected by server")
			}
		case "event":
			if msg.Event != nil && msg.Event.EventType == "state_changed" {
				s.dispatch(msg.Event)
			}
		}
	}
}

// authenticate runs the auth_required/auth/auth_ok handshake.
func (s *Socket) authenticate(ctx context.Context, conn *websocket.Conn) error {
	var hello wsMessage
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("reading server hello: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected hello message %q", hello.Type)
	}

	if err := wsjson.Write(ctx, conn, wsMessage{Type: "auth", AccessToken: s.token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var result wsMessage
	if err := wsjson.Read(ctx, conn, &result); err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected (%s)", result.Type)
	}
	return nil
}

func (s *Socket) dispatch(ev *wsEvent) {
	if ev.Data.OldState == nil || ev.Data.NewState == nil {
		return
	}

	s.mu.Lock()
	var matched []subscription
	for _, sub := range s.subs {
		if sub.entityID == ev.Data.EntityID {
			matched = append(matched, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range matched {
		sub.fn(ev.Data.OldState.State, ev.Data.NewState.State, ev.Data.NewState.LastChanged)
	}
}
