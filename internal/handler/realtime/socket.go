package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Loader reads the current state of a collection.
type Loader func(ctx context.Context) (interface{}, error)

// NewUpgrader returns the upgrader used by the live endpoints.
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Subscriber opens change feeds for a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) *feed.Subscription
}

// WatchSession subscribes to the end of the principal's session. It returns
// nil for anonymous callers.
func WatchSession(ctx context.Context, feeds Subscriber, principal identity.Principal) *feed.Subscription {
	if feeds == nil || principal.SessionID == "" {
		return nil
	}
	return feeds.Subscribe(ctx, feed.SessionTopic(principal.SessionID))
}

// Serve upgrades the request and pushes a fresh snapshot from load on connect
// and after every event on sub. It returns when the client goes away, the
// subscription ends, or an event arrives on revoked (which may be nil).
func Serve(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, sub, revoked *feed.Subscription, load Loader, log zerolog.Logger) {
	defer sub.Cancel()

	var ended <-chan feed.Event
	if revoked != nil {
		defer revoked.Cancel()
		ended = revoked.C
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// reader: only control frames are expected; any error ends the session
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	if !push(ctx, conn, load, log) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			if !push(ctx, conn, load, log) {
				return
			}
		case _, ok := <-ended:
			if ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"))
			}
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func push(ctx context.Context, conn *websocket.Conn, load Loader, log zerolog.Logger) bool {
	msg := Message{Type: "snapshot", Timestamp: time.Now().Unix()}
	data, err := load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load live snapshot")
		msg = Message{Type: "error", Error: "failed to load data", Timestamp: msg.Timestamp}
	} else {
		msg.Data = data
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}
