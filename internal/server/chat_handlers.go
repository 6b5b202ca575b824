package server

import (
	"marketplace/internal/models"
	"marketplace/internal/service"

	"github.com/gofiber/fiber/v2"
)

// StartChat handles POST /api/chats
func (s *Server) StartChat(c *fiber.Ctx) error {
	var req struct {
		SellerID  string `json:"seller_id"`
		ProductID string `json:"product_id"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	roomID, err := s.chats.StartOrGetChat(c.UserContext(), req.SellerID, req.ProductID)
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(fiber.Map{"room_id": roomID})
}

// ListChats handles GET /api/chats
func (s *Server) ListChats(c *fiber.Ctx) error {
	summaries, err := s.chats.ListMyChatSummaries(c.UserContext())
	if err != nil {
		return s.respondWithError(c, err)
	}
	if summaries == nil {
		summaries = []service.ChatSummary{}
	}
	return c.JSON(summaries)
}

// ListChatMessages handles GET /api/chats/:id/messages
func (s *Server) ListChatMessages(c *fiber.Ctx) error {
	msgs, err := s.chats.ListMessages(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.respondWithError(c, err)
	}
	if msgs == nil {
		msgs = []*models.ChatMessage{}
	}
	return c.JSON(msgs)
}

// SendChatMessage handles POST /api/chats/:id/messages
func (s *Server) SendChatMessage(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.chats.Send(c.UserContext(), c.Params("id"), req.Text)
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkChatRead handles POST /api/chats/:id/read
func (s *Server) MarkChatRead(c *fiber.Ctx) error {
	if err := s.chats.MarkRead(c.UserContext(), c.Params("id")); err != nil {
		return s.respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
