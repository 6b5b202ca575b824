package repository

import (
	"context"

	"marketplace/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoomMeta is the room-level state rewritten after every send.
// A nil UnreadCounts leaves the member counts untouched.
type RoomMeta struct {
	LastMessage  string
	UpdatedAt    int64
	UnreadCounts map[string]int
}

// ChatRepository defines the interface for chat data operations
type ChatRepository interface {
	FindRooms(ctx context.Context, productID, participant string) ([]*models.ChatRoom, error)
	CreateRoom(ctx context.Context, participants []string, productID string, updatedAt int64) (*models.ChatRoom, error)
	GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	UpdateRoomMeta(ctx context.Context, roomID string, meta RoomMeta) error
	IncrementUnread(ctx context.Context, roomID, except string) error
	SetUnread(ctx context.Context, roomID, uid string, count int) error
	ListMessages(ctx context.Context, roomID string) ([]*models.ChatMessage, error)
	ListRoomsForParticipant(ctx context.Context, uid string) ([]*models.ChatRoom, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func memberRooms(db *gorm.DB, uid string) *gorm.DB {
	return db.Model(&models.ChatMember{}).Select("room_id").Where("user_id = ?", uid)
}

// FindRooms returns the rooms of a product that participant belongs to.
func (r *chatRepository) FindRooms(ctx context.Context, productID, participant string) ([]*models.ChatRoom, error) {
	db := r.db.WithContext(ctx)
	var rooms []*models.ChatRoom
	err := db.Preload("Members").
		Where("product_id = ? AND id IN (?)", productID, memberRooms(db, participant)).
		Order("updated_at DESC").
		Find(&rooms).Error
	return rooms, err
}

func (r *chatRepository) CreateRoom(ctx context.Context, participants []string, productID string, updatedAt int64) (*models.ChatRoom, error) {
	room := &models.ChatRoom{
		ID:        uuid.NewString(),
		ProductID: productID,
		UpdatedAt: updatedAt,
	}
	for _, uid := range participants {
		room.Members = append(room.Members, models.ChatMember{RoomID: room.ID, UserID: uid})
	}
	// Members are inserted through the association in the same transaction.
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, err
	}
	return room, nil
}

func (r *chatRepository) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).Preload("Members").Where("id = ?", roomID).Take(&room).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *chatRepository) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *chatRepository) UpdateRoomMeta(ctx context.Context, roomID string, meta RoomMeta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChatRoom{}).Where("id = ?", roomID).Updates(map[string]interface{}{
			"last_message": meta.LastMessage,
			"updated_at":   meta.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Chat room", roomID)
		}
		for uid, count := range meta.UnreadCounts {
			err := tx.Model(&models.ChatMember{}).
				Where("room_id = ? AND user_id = ?", roomID, uid).
				Update("unread_count", count).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// IncrementUnread atomically bumps the unread count of every member except one.
func (r *chatRepository) IncrementUnread(ctx context.Context, roomID, except string) error {
	return r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("room_id = ? AND user_id <> ?", roomID, except).
		Update("unread_count", gorm.Expr("unread_count + 1")).Error
}

func (r *chatRepository) SetUnread(ctx context.Context, roomID, uid string, count int) error {
	res := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("room_id = ? AND user_id = ?", roomID, uid).
		Update("unread_count", count)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Chat member", uid)
	}
	return nil
}

// ListMessages returns every message of the room, oldest first.
func (r *chatRepository) ListMessages(ctx context.Context, roomID string) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *chatRepository) ListRoomsForParticipant(ctx context.Context, uid string) ([]*models.ChatRoom, error) {
	db := r.db.WithContext(ctx)
	var rooms []*models.ChatRoom
	err := db.Preload("Members").
		Where("id IN (?)", memberRooms(db, uid)).
		Order("updated_at DESC").
		Find(&rooms).Error
	return rooms, err
}
