package models

import "sort"

// ChatRoom is a buyer/seller conversation about one product.
// Members carries both the participant set and the per-participant unread counts.
type ChatRoom struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	ProductID   string       `gorm:"size:36;index;not null" json:"product_id"`
	LastMessage string       `gorm:"type:text" json:"last_message"`
	UpdatedAt   int64        `gorm:"autoUpdateTime:false;index" json:"updated_at"`
	Members     []ChatMember `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// ChatMember is one participant of a room together with their unread count.
type ChatMember struct {
	RoomID      string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"primaryKey;size:128;index"`
	UnreadCount int    `gorm:"default:0;not null"`
}

// ChatMessage is an immutable message. CreatedAt is client wall-clock milliseconds.
type ChatMessage struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RoomID    string `gorm:"size:36;index:idx_room_created,priority:1;not null" json:"room_id"`
	SenderID  string `gorm:"size:128;not null" json:"sender_id"`
	Text      string `gorm:"type:text;not null" json:"text"`
	CreatedAt int64  `gorm:"autoCreateTime:false;index:idx_room_created,priority:2" json:"created_at"`
}

// Participants returns the member ids in a stable order.
func (r *ChatRoom) Participants() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	sort.Strings(ids)
	return ids
}

// UnreadCounts returns the unread count keyed by participant id.
func (r *ChatRoom) UnreadCounts() map[string]int {
	counts := make(map[string]int, len(r.Members))
	for _, m := range r.Members {
		counts[m.UserID] = m.UnreadCount
	}
	return counts
}

// HasParticipant reports whether uid is a member of the room.
func (r *ChatRoom) HasParticipant(uid string) bool {
	for _, m := range r.Members {
		if m.UserID == uid {
			return true
		}
	}
	return false
}

// Partner returns the other participant for uid, or "" when uid is not a member.
func (r *ChatRoom) Partner(uid string) string {
	if !r.HasParticipant(uid) {
		return ""
	}
	for _, m := range r.Members {
		if m.UserID != uid {
			return m.UserID
		}
	}
	return ""
}

// ChatRoomView is the JSON shape of a room returned to clients.
type ChatRoomView struct {
	ID           string         `json:"id"`
	ProductID    string         `json:"product_id"`
	Participants []string       `json:"participants"`
	LastMessage  string         `json:"last_message"`
	UpdatedAt    int64          `json:"updated_at"`
	UnreadCounts map[string]int `json:"unread_counts"`
}

// View flattens the room for serialization.
func (r *ChatRoom) View() ChatRoomView {
	return ChatRoomView{
		ID:           r.ID,
		ProductID:    r.ProductID,
		Participants: r.Participants(),
		LastMessage:  r.LastMessage,
		UpdatedAt:    r.UpdatedAt,
		UnreadCounts: r.UnreadCounts(),
	}
}
