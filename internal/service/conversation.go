package service

import (
	"errors"

	"social_chat/internal/models"
	"social_chat/internal/repository"
)

// ConversationService 提供會話的建立與歷史查詢
type ConversationService struct {
	conversations repository.ConversationRepository
	delivery      *DeliveryEngine
}

func NewConversationService(conversations repository.ConversationRepository, delivery *DeliveryEngine) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		delivery:      delivery,
	}
}

// CreateConversation 建立會話，雙人私聊必須恰好兩名成員
func (s *ConversationService) CreateConversation(convType models.ConversationType, name string, memberIDs []uint) (*models.Conversation, error) {
	if convType == models.ConversationDirect && len(memberIDs) != 2 {
		return nil, errors.New("私聊會話必須恰好兩名成員")
	}
	if len(memberIDs) < 2 {
		return nil, errors.New("會話至少需要兩名成員")
	}

	members := make([]models.ConversationMember, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, models.ConversationMember{UserID: id})
	}
	conversation := &models.Conversation{
		Type:    convType,
		Name:    name,
		Members: members,
	}
	if err := s.conversations.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetConversation 載入會話與成員
func (s *ConversationService) GetConversation(id uint) (*models.Conversation, error) {
	return s.conversations.FindByID(id)
}

// History 按查看者視角回傳會話歷史
func (s *ConversationService) History(conversationID, viewerID uint, limit int) ([]MessageView, error) {
	return s.delivery.History(conversationID, viewerID, limit)
}

// Revoke 撤回一條消息
func (s *ConversationService) Revoke(messageID, userID uint, revokeType models.RevokeType) error {
	return s.delivery.Revoke(messageID, userID, revokeType)
}
