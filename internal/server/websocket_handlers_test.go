package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/notifications"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsTestTimeout = 5 * time.Second

// listen serves the app on a loopback port for real websocket clients.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.srv.App().Listener(ln) }()
	t.Cleanup(func() {
		e.srv.shutdownFn()
		_ = e.srv.App().ShutdownWithTimeout(wsTestTimeout)
	})
	return ln.Addr().String()
}

type wsClient struct {
	conn   *gws.Conn
	frames chan []byte
	err    chan error
}

func dialWS(t *testing.T, addr, path, token string) (*wsClient, error) {
	t.Helper()
	u := "ws://" + addr + path + "?token=" + url.QueryEscape(token)
	conn, resp, err := gws.DefaultDialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{conn: conn, frames: make(chan []byte, 32), err: make(chan error, 1)}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.err <- err
				close(c.frames)
				return
			}
			c.frames <- data
		}
	}()
	return c, nil
}

func (c *wsClient) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data, ok := <-c.frames:
		require.True(t, ok, "connection closed early")
		return data
	case <-time.After(wsTestTimeout):
		t.Fatal("timed out waiting for a websocket frame")
		return nil
	}
}

// closeErr waits for the server to close the connection.
func (c *wsClient) closeErr(t *testing.T) error {
	t.Helper()
	deadline := time.After(wsTestTimeout)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return <-c.err
			}
		case <-deadline:
			t.Fatal("timed out waiting for close")
			return nil
		}
	}
}

type chatFixture struct {
	env    *testEnv
	seller LoginResponse
	buyer  LoginResponse
	roomID string
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	env := newTestEnv(t)
	seller := env.register(t, "sellertwo", "Seller", "seller2@example.com")
	buyer := env.register(t, "buyertwo", "Buyer", "buyer2@example.com")
	product := env.createProduct(t, seller.Token, "Bicycle", "sports", 1)

	status, body := env.do(t, http.MethodPost, "/api/chats",
		map[string]string{"seller_id": seller.UID, "product_id": product.ID}, buyer.Token)
	require.Equal(t, http.StatusOK, status, string(body))
	return &chatFixture{
		env:    env,
		seller: seller,
		buyer:  buyer,
		roomID: decode[map[string]string](t, body)["room_id"],
	}
}

func (f *chatFixture) say(t *testing.T, token, text string) {
	t.Helper()
	status, body := f.env.do(t, http.MethodPost, "/api/chats/"+f.roomID+"/messages",
		map[string]string{"text": text}, token)
	require.Equal(t, http.StatusCreated, status, string(body))
}

func TestWebSocketChat(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t)
	f.say(t, f.buyer.Token, "hello")
	addr := f.env.listen(t)

	client, err := dialWS(t, addr, "/ws/chats/"+f.roomID, f.buyer.Token)
	require.NoError(t, err)

	first := decode[wsEvent](t, client.next(t))
	assert.Equal(t, "messages", first.Type)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "hello", first.Messages[0].Text)

	f.say(t, f.seller.Token, "still for sale")
	var latest []*models.ChatMessage
	for len(latest) < 2 {
		latest = decode[wsEvent](t, client.next(t)).Messages
	}
	require.Len(t, latest, 2)
	assert.Equal(t, "hello", latest[0].Text)
	assert.Equal(t, "still for sale", latest[1].Text)

	t.Run("non member is refused", func(t *testing.T) {
		stranger := f.env.register(t, "strangerx", "Stranger", "stranger@example.com")
		other, err := dialWS(t, addr, "/ws/chats/"+f.roomID, stranger.Token)
		require.NoError(t, err)
		ev := decode[wsEvent](t, other.next(t))
		assert.Equal(t, "error", ev.Type)
		assert.Equal(t, models.CodeForbidden, ev.Code)
		_ = other.closeErr(t)
	})

	t.Run("bad token fails the handshake", func(t *testing.T) {
		_, err := dialWS(t, addr, "/ws/chats/"+f.roomID, "not-a-token")
		assert.ErrorIs(t, err, gws.ErrBadHandshake)
	})

	status, _ := f.env.do(t, http.MethodPost, "/api/auth/logout", nil, f.buyer.Token)
	require.Equal(t, http.StatusNoContent, status)

	var closeErr *gws.CloseError
	require.True(t, errors.As(client.closeErr(t), &closeErr))
	assert.Equal(t, gws.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "signed out", closeErr.Text)
}

func TestWebSocketNotifications(t *testing.T) {
	t.Parallel()
	f := newChatFixture(t)
	addr := f.env.listen(t)

	client, err := dialWS(t, addr, "/ws/notifications", f.seller.Token)
	require.NoError(t, err)

	// The subscription starts after the handshake; keep sending until the
	// first notification arrives.
	stop := make(chan struct{})
	stopped := make(chan struct{})
	defer func() {
		close(stop)
		<-stopped
	}()
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				req := httptest.NewRequest(http.MethodPost, "/api/chats/"+f.roomID+"/messages",
					strings.NewReader(`{"text":"ping"}`))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+f.buyer.Token)
				if resp, err := f.env.srv.App().Test(req, -1); err == nil {
					_ = resp.Body.Close()
				}
			}
		}
	}()

	var note notifications.Notification
	require.NoError(t, json.Unmarshal(client.next(t), &note))
	assert.Equal(t, notifications.NotificationChatMessage, note.Type)
	assert.Equal(t, f.roomID, note.RoomID)
	assert.Equal(t, f.buyer.UID, note.SenderID)
	assert.Equal(t, "ping", note.Text)
}
