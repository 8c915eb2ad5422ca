package service

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"social_chat/internal/repository"
	"social_chat/internal/storage"
)

// CallRecord 是共享存儲中的通話記錄，接聽時寫入
// 記錄不存在代表通話未接通過（響鈴即結束）
type CallRecord struct {
	CallID    string `json:"call_id"`
	CallerID  uint   `json:"caller_id"`
	CalleeID  uint   `json:"callee_id"`
	StartedAt int64  `json:"started_at"`
}

// broadcaster 是跨進程推送所需的最小發佈介面
type broadcaster interface {
	Publish(subject string, data []byte) error
}

// callKV 是通話狀態桶所需的最小 KV 介面
type callKV interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
}

// connectionLister 查詢用戶目前存活的連接
type connectionLister interface {
	Connections(userID uint) ([]string, error)
}

// systemMessenger 是插入系統消息的入口
type systemMessenger interface {
	SendSystemMessage(conversationID uint, content string) error
}

// CallRelay 追蹤通話忙線狀態並中繼信令
// 響鈴狀態沒有超時機制，只能由明確的 END / REJECT 結束
type CallRelay struct {
	bus           broadcaster
	busy          callKV
	calls         callKV
	conversations repository.ConversationRepository
	registry      connectionLister
	delivery      systemMessenger
}

func NewCallRelay(store *storage.StateStore, conversations repository.ConversationRepository, registry *SocketRegistry, delivery *DeliveryEngine) *CallRelay {
	return &CallRelay{
		bus:           store,
		busy:          store.Busy,
		calls:         store.Calls,
		conversations: conversations,
		registry:      registry,
		delivery:      delivery,
	}
}

// CallPayload 是通話信令事件的通用內容
type CallPayload struct {
	CallID         string `json:"call_id,omitempty"`
	CallerID       uint   `json:"caller_id,omitempty"`
	CalleeID       uint   `json:"callee_id,omitempty"`
	Type           string `json:"type,omitempty"`
	ConversationID uint   `json:"conversation_id,omitempty"`
	PeerID         string `json:"peer_id,omitempty"`
}

// RenegotiationPayload 是信令重協商的透傳內容
type RenegotiationPayload struct {
	FromID  uint            `json:"from_id"`
	Payload json.RawMessage `json:"payload"`
}

func busyKey(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// Initiate 發起通話：忙線擋回、驗證會話成員、向被叫推送響鈴
func (c *CallRelay) Initiate(callerID, calleeID uint, callType string, conversationID uint, callID string) error {
	// 被叫忙線：只通知主叫，既有通話不受任何影響
	if _, err := c.busy.Get(busyKey(calleeID)); err == nil {
		return c.pushToUser(callerID, EventCallBusy, CallPayload{
			CallID:   callID,
			CalleeID: calleeID,
		}, "")
	}

	callerOK, err := c.conversations.IsMember(conversationID, callerID)
	if err != nil {
		return err
	}
	calleeOK, err := c.conversations.IsMember(conversationID, calleeID)
	if err != nil {
		return err
	}
	if !callerOK || !calleeOK {
		// 權限不符：強制結束這通通話
		c.End(callerID, calleeID, callID, conversationID)
		return ErrNotMember
	}

	return c.pushToUser(calleeID, EventInitiateCall, CallPayload{
		CallID:         callID,
		CallerID:       callerID,
		CalleeID:       calleeID,
		Type:           callType,
		ConversationID: conversationID,
	}, "")
}

// Accept 接聽通話：取消被叫其他連接的響鈴、通知主叫、
// 標記雙方忙線並記錄開始時間
func (c *CallRelay) Accept(callerID, calleeID uint, peerID, callID string, acceptingConnID string) error {
	// 被叫的其他連接還在響，取消它們
	if err := c.pushToUser(calleeID, EventCancelIncomingCall, CallPayload{
		CallID: callID,
	}, acceptingConnID); err != nil {
		log.Printf("CANCEL_INCOMING_CALL push failed for user %d: %v", calleeID, err)
	}

	if err := c.pushToUser(callerID, EventAcceptedCall, CallPayload{
		CallID: callID,
		PeerID: peerID,
	}, ""); err != nil {
		return err
	}

	if _, err := c.busy.Put(busyKey(callerID), []byte(callID)); err != nil {
		log.Printf("busy flag write failed for user %d: %v", callerID, err)
	}
	if _, err := c.busy.Put(busyKey(calleeID), []byte(callID)); err != nil {
		log.Printf("busy flag write failed for user %d: %v", calleeID, err)
	}

	record := CallRecord{
		CallID:    callID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		StartedAt: time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(record)
	if _, err := c.calls.Put(callID, data); err != nil {
		log.Printf("call record write failed for call %s: %v", callID, err)
	}
	return nil
}

// End 結束通話：通知雙方、清除忙線、依通話時長插入系統消息
func (c *CallRelay) End(callerID, calleeID uint, callID string, conversationID uint) error {
	payload := CallPayload{CallID: callID, CallerID: callerID, CalleeID: calleeID}
	if err := c.pushToUser(callerID, EventEndCall, payload, ""); err != nil {
		log.Printf("END_CALL push failed for user %d: %v", callerID, err)
	}
	if err := c.pushToUser(calleeID, EventEndCall, payload, ""); err != nil {
		log.Printf("END_CALL push failed for user %d: %v", calleeID, err)
	}

	c.busy.Delete(busyKey(callerID))
	c.busy.Delete(busyKey(calleeID))

	// 記錄存在代表接通過，不存在代表響鈴即終止
	var startedAt int64
	if entry, err := c.calls.Get(callID); err == nil {
		var record CallRecord
		if json.Unmarshal(entry.Value(), &record) == nil {
			startedAt = record.StartedAt
		}
		c.calls.Delete(callID)
	}

	content := callOutcome(startedAt, time.Now())
	if err := c.delivery.SendSystemMessage(conversationID, content); err != nil {
		log.Printf("call summary message failed for conversation %d: %v", conversationID, err)
	}
	return nil
}

// Renegotiate 純透傳：把重協商信令轉發到目標的所有連接
// 目標沒有連接只是警告，不算錯誤
func (c *CallRelay) Renegotiate(fromID, toID uint, event string, payload json.RawMessage) error {
	conns, err := c.registry.Connections(toID)
	if err == nil && len(conns) == 0 {
		log.Printf("renegotiation target user %d has no live connections", toID)
	}
	return c.pushToUser(toID, event, RenegotiationPayload{
		FromID:  fromID,
		Payload: payload,
	}, "")
}

// Reject 把拒接通知轉發給主叫的所有連接
func (c *CallRelay) Reject(callerID uint) error {
	return c.pushToUser(callerID, EventRejectCall, CallPayload{}, "")
}

func (c *CallRelay) pushToUser(userID uint, event string, payload interface{}, excludeConnID string) error {
	frame, err := encodePush(event, payload, 0, excludeConnID)
	if err != nil {
		return err
	}
	return c.bus.Publish(storage.UserSubject(userID), frame)
}

// callOutcome 依開始時間產生通話結果描述
// startedAt 為零代表通話沒有接通過
func callOutcome(startedAt int64, now time.Time) string {
	if startedAt == 0 {
		return "未接通話"
	}
	elapsed := now.Sub(time.UnixMilli(startedAt))
	if elapsed < 0 {
		elapsed = 0
	}
	return "通話時長 " + formatDuration(elapsed)
}

// formatDuration 把時長格式化為 mm:ss，超過一小時加上小時位
func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
