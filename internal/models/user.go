package models

import (
	"gorm.io/gorm"
)

// User 表示系統中的用戶
type User struct {
	gorm.Model        // 內嵌 gorm.Model，提供 ID、CreatedAt、UpdatedAt 和 DeletedAt 字段
	Username   string `gorm:"uniqueIndex;not null" json:"username"` // 用戶名，必須唯一
	Password   string `gorm:"not null" json:"-"`                    // 密碼，json 序列化時會被忽略
	Nickname   string `gorm:"type:varchar(50)" json:"nickname"`
	Avatar     string `gorm:"type:text" json:"avatar"`
}

// Friendship 表示兩個用戶之間的好友關係
// 只有 accepted 狀態的關係會參與在線狀態的推送
type Friendship struct {
	gorm.Model
	UserID   uint             `gorm:"uniqueIndex:idx_friend_pair" json:"user_id"`
	FriendID uint             `gorm:"uniqueIndex:idx_friend_pair" json:"friend_id"`
	Status   FriendshipStatus `gorm:"type:varchar(20);not null" json:"status"`
}

// FriendshipStatus 定義好友關係狀態的類型
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)
