package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace/internal/featureflags"
	"marketplace/internal/models"
	"marketplace/internal/notifications"
	"marketplace/internal/observability"
	"marketplace/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// UnknownPartner is shown when a chat partner has no profile.
const UnknownPartner = "Unknown user"

// summaryConcurrency bounds the lookups issued by ListMyChatSummaries.
const summaryConcurrency = 8

// ChatService provides buyer/seller chat business logic.
type ChatService struct {
	chatRepo    repository.ChatRepository
	productRepo repository.ProductRepository
	profileRepo repository.ProfileRepository
	notifier    *notifications.Notifier
	flags       *featureflags.Manager
	log         *slog.Logger
	now         func() time.Time

	startGroup singleflight.Group
}

// NewChatService returns a new ChatService.
func NewChatService(
	chatRepo repository.ChatRepository,
	productRepo repository.ProductRepository,
	profileRepo repository.ProfileRepository,
	notifier *notifications.Notifier,
	flags *featureflags.Manager,
	log *slog.Logger,
) *ChatService {
	if log == nil {
		log = slog.Default()
	}
	return &ChatService{
		chatRepo:    chatRepo,
		productRepo: productRepo,
		profileRepo: profileRepo,
		notifier:    notifier,
		flags:       flags,
		log:         log,
		now:         time.Now,
	}
}

func (s *ChatService) nowMillis() int64 {
	return s.now().UnixMilli()
}

// StartOrGetChat returns the room of the caller and sellerID about
// productID, creating it on first contact.
func (s *ChatService) StartOrGetChat(ctx context.Context, sellerID, productID string) (roomID string, err error) {
	ctx, span := observability.StartSpan(ctx, "chat.StartOrGetChat",
		attribute.String("product.id", productID),
		attribute.String("chat.seller_id", sellerID),
	)
	defer func() {
		span.SetAttributes(attribute.String("chat.room_id", roomID))
		observability.EndSpan(span, err)
	}()

	uid, err := callerID(ctx, "start a chat")
	if err != nil {
		return "", err
	}
	if uid == sellerID {
		return "", models.NewValidationError("You cannot start a chat with yourself.")
	}
	if sellerID == "" || productID == "" {
		return "", models.NewValidationError("Seller and product are required.")
	}

	product, err := s.productRepo.Get(ctx, productID)
	if err != nil {
		return "", err
	}
	if product == nil {
		return "", models.NewNotFoundError("Product", productID)
	}
	if product.SellerID != sellerID {
		return "", models.NewValidationError("The product is not sold by this seller.")
	}

	pair := []string{uid, sellerID}
	sort.Strings(pair)
	key := productID + ":" + strings.Join(pair, ":")

	// Concurrent first contacts from this process share one lookup-or-create.
	// The shared call must outlive any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.startGroup.Do(key, func() (any, error) {
		ctx := shared
		rooms, err := s.chatRepo.FindRooms(ctx, productID, uid)
		if err != nil {
			return "", err
		}
		for _, room := range rooms {
			if room.HasParticipant(sellerID) {
				return room.ID, nil
			}
		}

		room, err := s.chatRepo.CreateRoom(ctx, []string{uid, sellerID}, productID, s.nowMillis())
		if err != nil {
			return "", err
		}
		observability.ChatRoomsCreated.Inc()
		s.log.InfoContext(ctx, "chat room created", "room_id", room.ID, "product_id", productID)
		return room.ID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// memberRoom loads a room and checks the caller belongs to it.
func (s *ChatService) memberRoom(ctx context.Context, roomID, uid string) (*models.ChatRoom, error) {
	room, err := s.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, models.NewNotFoundError("Chat room", roomID)
	}
	if !room.HasParticipant(uid) {
		return nil, models.NewForbiddenError("You are not a participant of this chat.")
	}
	return room, nil
}

// Send appends a message and updates the room's last message, timestamp and
// the unread counts of every other participant.
func (s *ChatService) Send(ctx context.Context, roomID, text string) (_ *models.ChatMessage, err error) {
	ctx, span := observability.StartSpan(ctx, "chat.Send", attribute.String("chat.room_id", roomID))
	defer func() { observability.EndSpan(span, err) }()

	uid, err := callerID(ctx, "send messages")
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewValidationError("Message text is required.")
	}
	room, err := s.memberRoom(ctx, roomID, uid)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		RoomID:    roomID,
		SenderID:  uid,
		Text:      text,
		CreatedAt: s.nowMillis(),
	}
	if err := s.chatRepo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	observability.ChatMessagesSent.Inc()

	metaErr := s.updateMeta(ctx, roomID, uid, msg)

	// Subscribers render the message list, which already holds msg.
	if err := s.notifier.PublishRoomChanged(ctx, roomID); err != nil {
		s.log.WarnContext(ctx, "failed to publish room change", "room_id", roomID, "err", err)
	}
	if metaErr != nil {
		s.log.ErrorContext(ctx, "room meta update failed after append", "room_id", roomID, "err", metaErr)
		return nil, metaErr
	}
	if s.flags.Enabled(featureflags.ChatNotifications, uid) {
		s.notifyParticipants(ctx, room, msg)
	}
	return msg, nil
}

func (s *ChatService) updateMeta(ctx context.Context, roomID, sender string, msg *models.ChatMessage) error {
	meta := repository.RoomMeta{LastMessage: msg.Text, UpdatedAt: msg.CreatedAt}

	if s.flags.Enabled(featureflags.AtomicUnread, sender) {
		if err := s.chatRepo.UpdateRoomMeta(ctx, roomID, meta); err != nil {
			return err
		}
		return s.chatRepo.IncrementUnread(ctx, roomID, sender)
	}

	// Read-modify-write: concurrent senders can lose an increment.
	room, err := s.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return models.NewNotFoundError("Chat room", roomID)
	}
	counts := room.UnreadCounts()
	meta.UnreadCounts = make(map[string]int, len(counts))
	for participant, n := range counts {
		if participant != sender {
			meta.UnreadCounts[participant] = n + 1
		}
	}
	return s.chatRepo.UpdateRoomMeta(ctx, roomID, meta)
}

func (s *ChatService) notifyParticipants(ctx context.Context, room *models.ChatRoom, msg *models.ChatMessage) {
	note := notifications.Notification{
		Type:      notifications.NotificationChatMessage,
		RoomID:    room.ID,
		ProductID: room.ProductID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
	for _, participant := range room.Participants() {
		if participant == msg.SenderID {
			continue
		}
		if err := s.notifier.PublishUser(ctx, participant, note); err != nil {
			s.log.WarnContext(ctx, "failed to publish chat notification", "user_id", participant, "err", err)
		}
	}
}

// MarkRead resets the caller's unread count to zero.
func (s *ChatService) MarkRead(ctx context.Context, roomID string) error {
	uid, err := callerID(ctx, "read messages")
	if err != nil {
		return err
	}
	if err := s.chatRepo.SetUnread(ctx, roomID, uid, 0); err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return models.NewNotFoundError("Chat room", roomID)
		}
		return err
	}
	return nil
}

// ListMessages returns the messages of a room oldest first.
func (s *ChatService) ListMessages(ctx context.Context, roomID string) ([]*models.ChatMessage, error) {
	uid, err := callerID(ctx, "read messages")
	if err != nil {
		return nil, err
	}
	if _, err := s.memberRoom(ctx, roomID, uid); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMessages(ctx, roomID)
}

// ListMyChats returns the caller's rooms, most recently active first.
func (s *ChatService) ListMyChats(ctx context.Context) ([]*models.ChatRoom, error) {
	uid, err := callerID(ctx, "see your chats")
	if err != nil {
		return nil, err
	}
	return s.chatRepo.ListRoomsForParticipant(ctx, uid)
}

// ChatSummary is a room as listed on the caller's page.
type ChatSummary struct {
	Room            models.ChatRoomView `json:"room"`
	PartnerID       string              `json:"partner_id"`
	PartnerNickname string              `json:"partner_nickname"`
	ProductTitle    string              `json:"product_title"`
	Unread          int                 `json:"unread"`
}

// ListMyChatSummaries lists the caller's rooms with partner nickname and
// product title resolved concurrently.
func (s *ChatService) ListMyChatSummaries(ctx context.Context) ([]ChatSummary, error) {
	rooms, err := s.ListMyChats(ctx)
	if err != nil {
		return nil, err
	}
	uid, _ := callerID(ctx, "see your chats")

	summaries := make([]ChatSummary, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)

	for i, room := range rooms {
		partner := room.Partner(uid)
		summaries[i] = ChatSummary{
			Room:            room.View(),
			PartnerID:       partner,
			PartnerNickname: UnknownPartner,
			Unread:          room.UnreadCounts()[uid],
		}

		g.Go(func() error {
			profile, err := s.profileRepo.Get(gctx, partner)
			if err != nil {
				s.log.WarnContext(gctx, "failed to load chat partner", "user_id", partner, "err", err)
			} else if profile != nil {
				summaries[i].PartnerNickname = profile.Nickname
			}
			return gctx.Err()
		})
		g.Go(func() error {
			product, err := s.productRepo.Get(gctx, room.ProductID)
			if err != nil {
				s.log.WarnContext(gctx, "failed to load chat product", "product_id", room.ProductID, "err", err)
			} else if product != nil {
				summaries[i].ProductTitle = product.Title
			}
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Subscription is a live view of one room's messages.
type Subscription struct {
	once   sync.Once
	stop   chan struct{}
	done   chan struct{}
	broker *notifications.Subscription
}

// Cancel stops delivery and waits for the worker to exit. It must not be
// called from inside the update callback.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.stop)
		s.broker.Close()
	})
	<-s.done
}

// Done is closed once no further callbacks will run.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe delivers the full ordered message list of a room to onUpdate,
// once right away and again after every change. Bursts of changes are
// coalesced into one delivery. Callbacks run on a single goroutine, one at a
// time, until Cancel is called or ctx is done.
func (s *ChatService) Subscribe(ctx context.Context, roomID string, onUpdate func([]*models.ChatMessage)) (*Subscription, error) {
	uid, err := callerID(ctx, "read messages")
	if err != nil {
		return nil, err
	}
	if _, err := s.memberRoom(ctx, roomID, uid); err != nil {
		return nil, err
	}

	// Listen before the first read so no change slips between them.
	brokerSub, err := s.notifier.SubscribeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		broker: brokerSub,
	}
	observability.ChatSubscriptionsActive.Inc()

	go func() {
		defer close(sub.done)
		defer observability.ChatSubscriptionsActive.Dec()
		defer func() {
			if r := recover(); r != nil {
				s.log.ErrorContext(ctx, "panic in chat subscription", "room_id", roomID, "panic", r)
			}
		}()

		deliver := func() {
			messages, err := s.chatRepo.ListMessages(ctx, roomID)
			if err != nil {
				s.log.WarnContext(ctx, "failed to reload chat messages", "room_id", roomID, "err", err)
				return
			}
			onUpdate(messages)
		}

		deliver()
		for {
			select {
			case <-sub.stop:
				return
			case <-ctx.Done():
				brokerSub.Close()
				return
			case _, ok := <-brokerSub.C:
				if !ok {
					return
				}
				drain(brokerSub.C)
				select {
				case <-sub.stop:
					return
				default:
				}
				deliver()
			}
		}
	}()

	return sub, nil
}

// drain discards every payload already queued on c.
func drain(c <-chan string) {
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
