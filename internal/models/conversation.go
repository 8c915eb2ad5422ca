package models

import (
	"gorm.io/gorm"
)

// Conversation 表示一個會話，可以是雙人私聊或群組
type Conversation struct {
	gorm.Model
	Type    ConversationType     `gorm:"type:varchar(20);not null" json:"type"`
	Name    string               `gorm:"type:varchar(100)" json:"name"` // 群組名稱，私聊時為空
	Members []ConversationMember `gorm:"foreignKey:ConversationID" json:"members"`
}

// ConversationType 定義會話類型
type ConversationType string

const (
	ConversationDirect ConversationType = "direct" // 雙人私聊
	ConversationGroup  ConversationType = "group"  // 群組會話
)

// IsGroup 回報此會話是否為群組
// 群組的成員資料變動頻繁，不能進入快照快取
func (c *Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

// ConversationMember 表示會話的一個成員
type ConversationMember struct {
	gorm.Model
	ConversationID uint `gorm:"uniqueIndex:idx_conv_member" json:"conversation_id"`
	UserID         uint `gorm:"uniqueIndex:idx_conv_member" json:"user_id"`
}
