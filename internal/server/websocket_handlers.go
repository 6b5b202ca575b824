package server

import (
	"context"
	"sync"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsEvent is the envelope pushed to chat websocket clients.
type wsEvent struct {
	Type     string                `json:"type"`
	Messages []*models.ChatMessage `json:"messages,omitempty"`
	Error    string                `json:"error,omitempty"`
	Code     string                `json:"code,omitempty"`
}

// wsWriter serialises writes; the subscription worker and the ping loop
// both write to the same connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (w *wsWriter) close(code int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}

// wsConn is the per-connection state shared by the websocket endpoints.
type wsConn struct {
	*wsWriter
	ctx       context.Context
	cancel    context.CancelFunc
	uid       string
	signedOut chan struct{}
	cleanup   func()
}

// openWS derives the connection context from the session attached by
// Authenticate. The context ends when the server shuts down, the client
// goes away or the user signs out.
func (s *Server) openWS(conn *websocket.Conn) *wsConn {
	session, _ := conn.Locals(middleware.LocalSession).(*auth.Session)
	uid := ""
	if session != nil {
		uid = session.Identity.UID
	}

	ctx, cancel := context.WithCancel(s.shutdownCtx)
	ctx = auth.WithSession(ctx, session)
	ctx = observability.WithUserID(ctx, uid)

	wc := &wsConn{
		wsWriter:  &wsWriter{conn: conn},
		ctx:       ctx,
		cancel:    cancel,
		uid:       uid,
		signedOut: make(chan struct{}),
	}

	var once sync.Once
	unsubscribe := s.provider.OnSessionChange(func(ev auth.SessionEvent) {
		if ev.Kind == auth.SignedOut && ev.Identity.UID == uid {
			once.Do(func() { close(wc.signedOut) })
			cancel()
		}
	})
	wc.cleanup = func() {
		unsubscribe()
		cancel()
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	// Clients only send control frames; reading surfaces their close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return wc
}

// serve pings the client until the connection context ends or done is
// closed, then sends a close frame saying why.
func (wc *wsConn) serve(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case <-done:
			if wc.ctx.Err() != nil {
				wc.closeFor()
			} else {
				wc.close(websocket.CloseGoingAway, "subscription ended")
			}
			return
		case <-wc.ctx.Done():
			wc.closeFor()
			return
		}
	}
}

func (wc *wsConn) closeFor() {
	select {
	case <-wc.signedOut:
		wc.close(websocket.ClosePolicyViolation, "signed out")
	default:
		wc.close(websocket.CloseNormalClosure, "")
	}
}

// fail reports err to the client and closes the connection.
func (wc *wsConn) fail(err error) {
	appErr := asAppError(err)
	msg := appErr.Message
	if statusFor(appErr.Code) == fiber.StatusInternalServerError {
		msg = "Internal server error"
	}
	_ = wc.writeJSON(wsEvent{Type: "error", Error: msg, Code: appErr.Code})
	wc.close(websocket.ClosePolicyViolation, appErr.Code)
}

// WebSocketChatHandler handles GET /ws/chats/:id. The full ordered message
// list is pushed on connect and after every change to the room.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.ActiveWebSockets.WithLabelValues("chat").Inc()
		defer observability.ActiveWebSockets.WithLabelValues("chat").Dec()

		wc := s.openWS(conn)
		defer wc.cleanup()
		roomID := conn.Params("id")

		sub, err := s.chats.Subscribe(wc.ctx, roomID, func(msgs []*models.ChatMessage) {
			if msgs == nil {
				msgs = []*models.ChatMessage{}
			}
			if err := wc.writeJSON(wsEvent{Type: "messages", Messages: msgs}); err != nil {
				s.log.DebugContext(wc.ctx, "chat websocket write failed", "room_id", roomID, "err", err)
				wc.cancel()
			}
		})
		if err != nil {
			s.log.InfoContext(wc.ctx, "chat websocket rejected", "room_id", roomID, "err", err)
			wc.fail(err)
			return
		}
		defer sub.Cancel()

		s.log.DebugContext(wc.ctx, "chat websocket connected", "room_id", roomID)
		wc.serve(sub.Done())
	})
}

// WebSocketNotificationHandler handles GET /ws/notifications, forwarding
// the caller's notifications as they are published.
func (s *Server) WebSocketNotificationHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.ActiveWebSockets.WithLabelValues("notifications").Inc()
		defer observability.ActiveWebSockets.WithLabelValues("notifications").Dec()

		wc := s.openWS(conn)
		defer wc.cleanup()

		sub, err := s.notifier.SubscribeUser(wc.ctx, wc.uid)
		if err != nil {
			wc.fail(err)
			return
		}
		defer sub.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-wc.ctx.Done():
					return
				case payload, ok := <-sub.C:
					if !ok {
						return
					}
					if err := wc.writeText([]byte(payload)); err != nil {
						wc.cancel()
						return
					}
				}
			}
		}()
		wc.serve(done)
		wc.cancel()
		<-done
	})
}
