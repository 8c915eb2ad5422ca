package models

import (
	"time"

	"gorm.io/gorm"
)

// Message 代表一條會話消息
// 消息本身不可變，撤回只是隱藏內容而不刪除記錄
type Message struct {
	gorm.Model
	ConversationID uint        `gorm:"index;not null" json:"conversation_id"`
	SenderID       uint        `gorm:"index" json:"sender_id"` // 系統消息的 SenderID 為 0
	Content        string      `gorm:"type:text" json:"content"`
	Type           MessageType `gorm:"type:varchar(20);not null" json:"type"`
	ParentID       *uint       `json:"parent_id,omitempty"` // 回覆的父消息 ID
}

// MessageType 定義消息類型
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

// MessageStatus 表示一條消息對某個接收者的投遞狀態
// 每個 (消息, 接收者) 組合只有一行，狀態只會單向前進：sent → delivered → read
type MessageStatus struct {
	gorm.Model
	MessageID  uint           `gorm:"uniqueIndex:idx_msg_receiver" json:"message_id"`
	ReceiverID uint           `gorm:"uniqueIndex:idx_msg_receiver" json:"receiver_id"`
	Status     DeliveryStatus `gorm:"type:varchar(20);not null" json:"status"`
	IsRevoked  bool           `gorm:"default:false" json:"is_revoked"`
	RevokeType RevokeType     `gorm:"type:varchar(20)" json:"revoke_type,omitempty"`
	ReadAt     *time.Time     `json:"read_at,omitempty"`
}

// DeliveryStatus 定義投遞狀態
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"      // 已存入，接收者離線
	StatusDelivered DeliveryStatus = "delivered" // 已存入，接收者在線
	StatusRead      DeliveryStatus = "read"      // 接收者已讀
)

// RevokeType 定義撤回的作用範圍
type RevokeType string

const (
	RevokeForMe    RevokeType = "for-me"    // 只對撤回者本人隱藏
	RevokeForOther RevokeType = "for-other" // 對所有人隱藏
)

// RevokedForMe 回報這一行是否被接收者本人撤回
// for-me 標記一旦設置就不會被清除或改寫，
// 最後已讀位置的排除規則依賴這個不變量
func (s *MessageStatus) RevokedForMe() bool {
	return s.IsRevoked && s.RevokeType == RevokeForMe
}

// Reaction 表示用戶對消息的表情回應
// 每個 (消息, 用戶) 組合唯一，重複回應會原地更新
type Reaction struct {
	gorm.Model
	MessageID uint   `gorm:"uniqueIndex:idx_msg_user_react" json:"message_id"`
	UserID    uint   `gorm:"uniqueIndex:idx_msg_user_react" json:"user_id"`
	React     string `gorm:"type:varchar(20);not null" json:"react"`
}
