package service

import "errors"

// 事件處理的錯誤分類：
// ErrStoreUnavailable — 共享狀態存儲暫時不可達，即時投遞降級，消息仍可從資料庫讀取
// ErrNotMember        — 使用者沒有權限，操作靜默無效
// ErrNotFound         — 目標會話或消息不存在，操作無效
// 持久化錯誤直接回傳 gorm 的原始錯誤，該次操作整體中止，不做任何廣播
var (
	ErrStoreUnavailable = errors.New("共享狀態存儲暫時不可用")
	ErrNotMember        = errors.New("使用者不是會話成員")
	ErrNotFound         = errors.New("目標資源不存在")
)
