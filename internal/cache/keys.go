package cache

import "fmt"

// ProductListKey caches the listing page of one category.
func ProductListKey(category string) string {
	return fmt.Sprintf("products:list:%s", category)
}

// SignupDraftKey holds a serialized signup draft.
func SignupDraftKey(id string) string {
	return fmt.Sprintf("signup:draft:%s", id)
}

// ProductViewKey marks that viewer already counted a view of product.
func ProductViewKey(viewer, productID string) string {
	return fmt.Sprintf("products:viewed:%s:%s", productID, viewer)
}

// RateLimitKey counts requests of one client against one action.
func RateLimitKey(action, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, client)
}

// ChatRoomTopic is the pub/sub channel announcing changes to a room.
func ChatRoomTopic(roomID string) string {
	return fmt.Sprintf("chat:room:%s", roomID)
}

// UserNotificationTopic is the pub/sub channel of one user's notifications.
func UserNotificationTopic(uid string) string {
	return fmt.Sprintf("user:%s:notifications", uid)
}
