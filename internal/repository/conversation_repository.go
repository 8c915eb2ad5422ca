package repository

import (
	"social_chat/internal/models"
	"social_chat/internal/storage"
)

type ConversationRepository interface {
	Create(conversation *models.Conversation) error
	FindByID(id uint) (*models.Conversation, error)
	// MemberIDs 回傳會話全部成員的用戶 ID
	MemberIDs(conversationID uint) ([]uint, error)
	// IsMember 檢查用戶是否為會話成員
	IsMember(conversationID, userID uint) (bool, error)
}

type conversationRepository struct {
	db *storage.PostgresDB
}

func NewConversationRepository(db *storage.PostgresDB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(conversation *models.Conversation) error {
	return r.db.Create(conversation).Error
}

func (r *conversationRepository) FindByID(id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.Preload("Members").First(&conversation, id).Error; err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) MemberIDs(conversationID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *conversationRepository) IsMember(conversationID, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
