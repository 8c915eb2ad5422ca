package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"social_chat/internal/models"
	"social_chat/internal/storage"
)

// ReactionCount 是某個表情在一條消息上的出現次數
type ReactionCount struct {
	React string `json:"react"`
	Count int    `json:"count"`
}

// MessageWithStatus 是一條消息加上特定查看者的投遞狀態
type MessageWithStatus struct {
	Message models.Message
	Status  *models.MessageStatus
}

type MessageRepository interface {
	// CreateWithStatuses 在單一事務中建立消息與全部狀態行
	// 事務失敗時兩者都不會存在，消息永遠不會在沒有狀態行的情況下被廣播
	CreateWithStatuses(message *models.Message, statuses []models.MessageStatus) error
	FindByID(id uint) (*models.Message, error)
	StatusFor(messageID, receiverID uint) (*models.MessageStatus, error)
	StatusesFor(messageID uint) ([]models.MessageStatus, error)
	// ListByConversation 回傳會話的消息與查看者自己的狀態行，按 ID 升冪
	ListByConversation(conversationID, viewerID uint, limit int) ([]MessageWithStatus, error)
	// MarkConversationRead 將會話中該接收者所有未讀狀態批次轉為已讀
	// WHERE 條件排除已讀行，狀態因此永不回退
	MarkConversationRead(conversationID, receiverID uint, at time.Time) error
	// LastVisibleReadID 計算接收者的最後已讀消息 ID
	// 排除對該接收者 for-me 撤回的消息；for-other 撤回的仍然計入
	LastVisibleReadID(conversationID, receiverID uint) (uint, error)
	UpsertReaction(reaction *models.Reaction) error
	DeleteReaction(messageID, userID uint) error
	// ReactionCounts 回傳按次數降冪的表情統計，次數相同時順序不保證
	ReactionCounts(messageID uint) ([]ReactionCount, error)
	// RevokeForMe 只隱藏查看者自己那一行，已撤回的行不再改動
	RevokeForMe(messageID, viewerID uint) error
	// RevokeForOther 對所有接收者隱藏，但保留已存在的 for-me 標記
	RevokeForOther(messageID uint) error
}

type messageRepository struct {
	db *storage.PostgresDB
}

func NewMessageRepository(db *storage.PostgresDB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) CreateWithStatuses(message *models.Message, statuses []models.MessageStatus) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		for i := range statuses {
			statuses[i].MessageID = message.ID
		}
		if len(statuses) > 0 {
			if err := tx.Create(&statuses).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *messageRepository) FindByID(id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) StatusFor(messageID, receiverID uint) (*models.MessageStatus, error) {
	var status models.MessageStatus
	err := r.db.Where("message_id = ? AND receiver_id = ?", messageID, receiverID).
		First(&status).Error
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *messageRepository) StatusesFor(messageID uint) ([]models.MessageStatus, error) {
	var statuses []models.MessageStatus
	err := r.db.Where("message_id = ?", messageID).Find(&statuses).Error
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func (r *messageRepository) ListByConversation(conversationID, viewerID uint, limit int) ([]MessageWithStatus, error) {
	var messages []models.Message
	query := r.db.Where("conversation_id = ?", conversationID).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}

	messageIDs := make([]uint, 0, len(messages))
	for _, m := range messages {
		messageIDs = append(messageIDs, m.ID)
	}

	statusByMessage := make(map[uint]*models.MessageStatus)
	if len(messageIDs) > 0 {
		var statuses []models.MessageStatus
		err := r.db.Where("message_id IN ? AND receiver_id = ?", messageIDs, viewerID).
			Find(&statuses).Error
		if err != nil {
			return nil, err
		}
		for i := range statuses {
			statusByMessage[statuses[i].MessageID] = &statuses[i]
		}
	}

	result := make([]MessageWithStatus, 0, len(messages))
	for _, m := range messages {
		result = append(result, MessageWithStatus{
			Message: m,
			Status:  statusByMessage[m.ID],
		})
	}
	return result, nil
}

func (r *messageRepository) MarkConversationRead(conversationID, receiverID uint, at time.Time) error {
	sub := r.db.Model(&models.Message{}).
		Select("id").
		Where("conversation_id = ?", conversationID)

	return r.db.Model(&models.MessageStatus{}).
		Where("receiver_id = ? AND status <> ? AND message_id IN (?)",
			receiverID, models.StatusRead, sub).
		Updates(map[string]interface{}{
			"status":  models.StatusRead,
			"read_at": at,
		}).Error
}

func (r *messageRepository) LastVisibleReadID(conversationID, receiverID uint) (uint, error) {
	var id uint
	err := r.db.Model(&models.MessageStatus{}).
		Select("COALESCE(MAX(message_statuses.message_id), 0)").
		Joins("JOIN messages ON messages.id = message_statuses.message_id").
		Where("messages.conversation_id = ? AND message_statuses.receiver_id = ? AND message_statuses.status = ?",
			conversationID, receiverID, models.StatusRead).
		Where("NOT (message_statuses.is_revoked AND message_statuses.revoke_type = ?)",
			models.RevokeForMe).
		Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *messageRepository) UpsertReaction(reaction *models.Reaction) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"react", "updated_at"}),
	}).Create(reaction).Error
}

func (r *messageRepository) DeleteReaction(messageID, userID uint) error {
	return r.db.Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.Reaction{}).Error
}

func (r *messageRepository) ReactionCounts(messageID uint) ([]ReactionCount, error) {
	var counts []ReactionCount
	err := r.db.Model(&models.Reaction{}).
		Select("react, COUNT(*) AS count").
		Where("message_id = ?", messageID).
		Group("react").
		Order("count DESC").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *messageRepository) RevokeForMe(messageID, viewerID uint) error {
	return r.db.Model(&models.MessageStatus{}).
		Where("message_id = ? AND receiver_id = ? AND is_revoked = ?", messageID, viewerID, false).
		Updates(map[string]interface{}{
			"is_revoked":  true,
			"revoke_type": models.RevokeForMe,
		}).Error
}

func (r *messageRepository) RevokeForOther(messageID uint) error {
	statuses, err := r.StatusesFor(messageID)
	if err != nil {
		return err
	}
	ids := forOtherRevocationTargets(statuses)
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.MessageStatus{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_revoked":  true,
			"revoke_type": models.RevokeForOther,
		}).Error
}

// forOtherRevocationTargets 挑出 for-other 撤回要改寫的狀態行
// 已帶 for-me 標記的行保持原樣：內容對該查看者本就隱藏，
// 而改寫標記會讓這條消息重新計入他的最後已讀位置
func forOtherRevocationTargets(statuses []models.MessageStatus) []uint {
	ids := make([]uint, 0, len(statuses))
	for i := range statuses {
		if statuses[i].RevokedForMe() {
			continue
		}
		ids = append(ids, statuses[i].ID)
	}
	return ids
}
