package service

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"social_chat/internal/repository"
	"social_chat/internal/storage"
)

const (
	// GraceOffline 是最後一條連接斷開後到判定離線之間的緩衝
	// 期間重連會取消倒數，不發出任何事件
	GraceOffline = 4 * time.Minute
	// HeartbeatInterval 是在線標記的續期週期，必須短於標記的 TTL
	HeartbeatInterval = 2 * time.Minute
)

// PresenceStatus 是共享存儲中的在線標記，TTL 到期即視為離線
type PresenceStatus struct {
	IsOnline     bool  `json:"is_online"`
	LastOnlineAt int64 `json:"last_online_at"`
}

// offlineDebouncer 管理每個用戶的離線倒數定時器
// 定時器保存在本進程內存：進程重啟會丟失倒數，重連落在其他進程
// 也無法取消它，水平擴展時依賴在線標記的 TTL 到期兜底
type offlineDebouncer struct {
	mu     sync.Mutex
	grace  time.Duration
	timers map[uint]*time.Timer
	fire   func(userID uint)
}

func newOfflineDebouncer(grace time.Duration, fire func(userID uint)) *offlineDebouncer {
	return &offlineDebouncer{
		grace:  grace,
		timers: make(map[uint]*time.Timer),
		fire:   fire,
	}
}

// Arm 啟動倒數，已有倒數時重置
func (d *offlineDebouncer) Arm(userID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[userID]; ok {
		t.Stop()
	}
	d.timers[userID] = time.AfterFunc(d.grace, func() {
		d.mu.Lock()
		delete(d.timers, userID)
		d.mu.Unlock()
		d.fire(userID)
	})
}

// Cancel 取消倒數，回報是否真的有倒數被取消
func (d *offlineDebouncer) Cancel(userID uint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[userID]
	if !ok {
		return false
	}
	t.Stop()
	delete(d.timers, userID)
	return true
}

// PresenceTracker 維護用戶在線狀態：首條連接上線、心跳續期、
// 斷線防抖，以及向在線好友推送狀態變化
type PresenceTracker struct {
	store     *storage.StateStore
	users     repository.UserRepository
	registry  *SocketRegistry
	manager   *WebSocketManager
	debouncer *offlineDebouncer
}

func NewPresenceTracker(store *storage.StateStore, users repository.UserRepository, registry *SocketRegistry, manager *WebSocketManager) *PresenceTracker {
	t := &PresenceTracker{
		store:    store,
		users:    users,
		registry: registry,
		manager:  manager,
	}
	t.debouncer = newOfflineDebouncer(GraceOffline, t.onGraceExpired)
	return t
}

// HandleConnect 在一條新連接建立後呼叫
func (t *PresenceTracker) HandleConnect(userID uint) {
	// 緩衝期內的重連：取消倒數即可，對外不可見
	if t.debouncer.Cancel(userID) {
		t.writeMarker(userID)
		return
	}

	online, err := t.IsOnline(userID)
	if err != nil {
		log.Printf("presence check failed for user %d: %v", userID, err)
	}
	t.writeMarker(userID)
	if !online {
		// 首條連接：向當前在線的好友推送上線事件
		t.fanoutStatus(userID, true, time.Now().UnixMilli())
	}
}

// HandleDisconnect 在一條連接清理完畢後呼叫
// 只有跨進程都沒有剩餘連接時才啟動離線倒數
func (t *PresenceTracker) HandleDisconnect(userID uint) {
	conns, err := t.registry.Connections(userID)
	if err != nil {
		log.Printf("registry lookup failed for user %d: %v", userID, err)
		// 存儲不可達時退回本地視角
		if t.manager.hasLocalClients(userID) {
			return
		}
	} else if len(conns) > 0 {
		return
	}
	t.debouncer.Arm(userID)
}

// onGraceExpired 倒數到期：寫離線標記並通知在線好友
func (t *PresenceTracker) onGraceExpired(userID uint) {
	conns, err := t.registry.Connections(userID)
	if err == nil && len(conns) > 0 {
		// 緩衝期間在其他進程重連了
		return
	}

	lastOnline := time.Now().Add(-GraceOffline).UnixMilli()
	status := PresenceStatus{IsOnline: false, LastOnlineAt: lastOnline}
	data, _ := json.Marshal(status)
	if _, err := t.store.Presence.Put(presenceKey(userID), data); err != nil {
		log.Printf("presence offline write failed for user %d: %v", userID, err)
	}
	t.fanoutStatus(userID, false, lastOnline)
}

// IsOnline 查詢用戶是否在線，標記不存在（或已過期）即離線
func (t *PresenceTracker) IsOnline(userID uint) (bool, error) {
	entry, err := t.store.Presence.Get(presenceKey(userID))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, ErrStoreUnavailable
	}
	var status PresenceStatus
	if err := json.Unmarshal(entry.Value(), &status); err != nil {
		return false, nil
	}
	return status.IsOnline, nil
}

// RenewHeartbeats 為所有持有本地連接的用戶續期在線標記
func (t *PresenceTracker) RenewHeartbeats() {
	for _, userID := range t.manager.localUserIDs() {
		t.writeMarker(userID)
	}
}

// StartHeartbeat 啟動心跳迴圈
func (t *PresenceTracker) StartHeartbeat() {
	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for range ticker.C {
			t.RenewHeartbeats()
		}
	}()
}

func (t *PresenceTracker) writeMarker(userID uint) {
	status := PresenceStatus{IsOnline: true, LastOnlineAt: time.Now().UnixMilli()}
	data, _ := json.Marshal(status)
	if _, err := t.store.Presence.Put(presenceKey(userID), data); err != nil {
		log.Printf("presence marker write failed for user %d: %v", userID, err)
	}
}

// fanoutStatus 把狀態變化推給當前在線的好友
// 離線好友下次查詢時自然得知，不做即時推送
func (t *PresenceTracker) fanoutStatus(userID uint, isOnline bool, lastOnlineAt int64) {
	friends, err := t.friendIDs(userID)
	if err != nil {
		log.Printf("friend lookup failed for user %d: %v", userID, err)
		return
	}

	payload := UserStatusPayload{
		UserID:       userID,
		IsOnline:     isOnline,
		LastOnlineAt: lastOnlineAt,
	}
	frame, err := encodePush(EventUserStatus, payload, 0, "")
	if err != nil {
		return
	}

	for _, fid := range friends {
		online, err := t.IsOnline(fid)
		if err != nil || !online {
			continue
		}
		if err := t.store.Publish(storage.UserSubject(fid), frame); err != nil {
			log.Printf("USER_STATUS push failed for user %d: %v", fid, err)
		}
	}
}

// friendIDs 取得已接受的好友列表，經過共享快取
// 新建立的好友關係在快取過期前不會收到即時狀態推送
func (t *PresenceTracker) friendIDs(userID uint) ([]uint, error) {
	key := presenceKey(userID)
	if entry, err := t.store.Friends.Get(key); err == nil {
		var ids []uint
		if json.Unmarshal(entry.Value(), &ids) == nil {
			return ids, nil
		}
	}

	ids, err := t.users.AcceptedFriendIDs(userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ids); err == nil {
		t.store.Friends.Put(key, data)
	}
	return ids, nil
}

func presenceKey(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// UserStatusPayload 是 USER_STATUS 事件的內容
type UserStatusPayload struct {
	UserID       uint  `json:"user_id"`
	IsOnline     bool  `json:"is_online"`
	LastOnlineAt int64 `json:"last_online_at"`
}
