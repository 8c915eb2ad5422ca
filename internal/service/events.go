package service

import (
	"encoding/json"
)

// 入站事件（客戶端 → 伺服器）
const (
	EventJoinRoom            = "JOIN_ROOM"
	EventNewMessage          = "NEW_MESSAGE"
	EventReadMessage         = "READ_MESSAGE"
	EventReactMessage        = "REACT_MESSAGE"
	EventRemoveReaction      = "REMOVE_REACTION"
	EventTyping              = "TYPING"
	EventInitiateCall        = "INITIATE_CALL"
	EventAcceptedCall        = "ACCEPTED_CALL"
	EventEndCall             = "END_CALL"
	EventRenegotiationOffer  = "RENEGOTIATION_OFFER"
	EventRenegotiationAnswer = "RENEGOTIATION_ANSWER"
	EventRejectCall          = "REJECT_CALL"
)

// 僅出站事件（伺服器 → 客戶端）
// NEW_MESSAGE、REACT_MESSAGE、REMOVE_REACTION 與通話事件雙向共用同名
const (
	EventUpdateReadMessage  = "UPDATE_READ_MESSAGE"
	EventUserStatus         = "USER_STATUS"
	EventMessageTyping      = "MESSAGE_TYPING"
	EventCancelIncomingCall = "CANCEL_INCOMING_CALL"
	EventCallBusy           = "CALL_BUSY"
)

// Frame 是 WebSocket 上雙向通用的訊框
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// pushFrame 是跨進程廣播的信封
// 排除欄位讓「除發送者外」與「除某條連接外」的投遞不需要額外的 subject
type pushFrame struct {
	Event         string          `json:"event"`
	Data          json.RawMessage `json:"data"`
	ExcludeUserID uint            `json:"exclude_user_id,omitempty"`
	ExcludeConnID string          `json:"exclude_conn_id,omitempty"`
}

func encodePush(event string, data interface{}, excludeUser uint, excludeConn string) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pushFrame{
		Event:         event,
		Data:          raw,
		ExcludeUserID: excludeUser,
		ExcludeConnID: excludeConn,
	})
}
