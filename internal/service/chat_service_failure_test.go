package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errMetaDown = errors.New("meta store unavailable")

// brokenMetaRepo appends messages but cannot update room metadata.
type brokenMetaRepo struct {
	repository.ChatRepository
}

func (brokenMetaRepo) UpdateRoomMeta(context.Context, string, repository.RoomMeta) error {
	return errMetaDown
}

func (brokenMetaRepo) IncrementUnread(context.Context, string, string) error {
	return errMetaDown
}

func TestChatService_SendPublishesWhenMetaUpdateFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.chats = brokenMetaRepo{ChatRepository: f.chats}
	svc := f.chatService("")
	product := f.addProduct(t, "seller", "Lamp", "furniture", 1)

	roomID, err := svc.StartOrGetChat(asUser("buyer"), "seller", product.ID)
	require.NoError(t, err)

	sub, err := f.notifier.SubscribeRoom(context.Background(), roomID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = svc.Send(asUser("buyer"), roomID, "still there?")
	require.ErrorIs(t, err, errMetaDown)

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("room change was not published")
	}

	msgs, err := svc.ListMessages(asUser("seller"), roomID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "still there?", msgs[0].Text)
}

// gatedRoomRepo holds FindRooms until released.
type gatedRoomRepo struct {
	repository.ChatRepository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRoomRepo) FindRooms(ctx context.Context, productID, participant string) ([]*models.ChatRoom, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.ChatRepository.FindRooms(ctx, productID, participant)
}

func TestChatService_StartOrGetChatSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gated := &gatedRoomRepo{ChatRepository: f.chats, entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.chats = gated
	svc := f.chatService("")
	product := f.addProduct(t, "seller", "Desk", "furniture", 1)

	ctx, cancel := context.WithCancel(asUser("buyer"))
	type result struct {
		id  string
		err error
	}
	first := make(chan result, 1)
	go func() {
		id, err := svc.StartOrGetChat(ctx, "seller", product.ID)
		first <- result{id, err}
	}()

	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup never started")
	}
	cancel()
	close(gated.release)

	got := <-first
	require.NoError(t, got.err)
	require.NotEmpty(t, got.id)

	again, err := svc.StartOrGetChat(asUser("buyer"), "seller", product.ID)
	require.NoError(t, err)
	assert.Equal(t, got.id, again)
}

func spanNames(spans []sdktrace.ReadOnlySpan, key attribute.Key, value string) []string {
	var names []string
	for _, s := range spans {
		for _, kv := range s.Attributes() {
			if kv.Key == key && kv.Value.AsString() == value {
				names = append(names, s.Name())
				break
			}
		}
	}
	return names
}

func TestChatService_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t)
	svc := f.chatService("")
	product := f.addProduct(t, "seller", "Chair", "furniture", 1)

	roomID, err := svc.StartOrGetChat(asUser("buyer"), "seller", product.ID)
	require.NoError(t, err)
	_, err = svc.Send(asUser("buyer"), roomID, "hello")
	require.NoError(t, err)
	_, err = svc.Send(asUser("stranger"), roomID, "let me in")
	require.Error(t, err)

	names := spanNames(recorder.Ended(), "chat.room_id", roomID)
	assert.Equal(t, []string{"chat.StartOrGetChat", "chat.Send", "chat.Send"}, names)

	var failed int
	for _, s := range recorder.Ended() {
		if s.Name() == "chat.Send" && s.Status().Code == codes.Error {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}
