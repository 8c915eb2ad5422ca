package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	"social_chat/internal/models"
	"social_chat/internal/storage"
)

type publishedFrame struct {
	subject string
	frame   pushFrame
}

type fakeBus struct {
	published []publishedFrame
}

func (f *fakeBus) Publish(subject string, data []byte) error {
	var frame pushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	f.published = append(f.published, publishedFrame{subject: subject, frame: frame})
	return nil
}

func (f *fakeBus) framesFor(subject string) []pushFrame {
	var result []pushFrame
	for _, p := range f.published {
		if p.subject == subject {
			result = append(result, p.frame)
		}
	}
	return result
}

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(key string) (nats.KeyValueEntry, error) {
	value, ok := f.data[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	return fakeKVEntry{key: key, value: value}, nil
}

func (f *fakeKV) Put(key string, value []byte) (uint64, error) {
	f.data[key] = value
	return 1, nil
}

func (f *fakeKV) Delete(key string, _ ...nats.DeleteOpt) error {
	delete(f.data, key)
	return nil
}

type fakeKVEntry struct {
	key   string
	value []byte
}

func (e fakeKVEntry) Bucket() string             { return "test" }
func (e fakeKVEntry) Key() string                { return e.key }
func (e fakeKVEntry) Value() []byte              { return e.value }
func (e fakeKVEntry) Revision() uint64           { return 1 }
func (e fakeKVEntry) Created() time.Time         { return time.Time{} }
func (e fakeKVEntry) Delta() uint64              { return 0 }
func (e fakeKVEntry) Operation() nats.KeyValueOp { return nats.KeyValuePut }

type fakeMembership struct {
	members map[uint][]uint
}

func (f *fakeMembership) Create(*models.Conversation) error { return nil }

func (f *fakeMembership) FindByID(uint) (*models.Conversation, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMembership) MemberIDs(conversationID uint) ([]uint, error) {
	return f.members[conversationID], nil
}

func (f *fakeMembership) IsMember(conversationID, userID uint) (bool, error) {
	for _, id := range f.members[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeConnections struct {
	conns map[uint][]string
}

func (f *fakeConnections) Connections(userID uint) ([]string, error) {
	return f.conns[userID], nil
}

type fakeMessenger struct {
	conversations []uint
	contents      []string
}

func (f *fakeMessenger) SendSystemMessage(conversationID uint, content string) error {
	f.conversations = append(f.conversations, conversationID)
	f.contents = append(f.contents, content)
	return nil
}

func newTestRelay(members map[uint][]uint) (*CallRelay, *fakeBus, *fakeKV, *fakeKV, *fakeMessenger) {
	bus := &fakeBus{}
	busy := newFakeKV()
	calls := newFakeKV()
	messenger := &fakeMessenger{}
	relay := &CallRelay{
		bus:           bus,
		busy:          busy,
		calls:         calls,
		conversations: &fakeMembership{members: members},
		registry:      &fakeConnections{},
		delivery:      messenger,
	}
	return relay, bus, busy, calls, messenger
}

func TestInitiate_BusyCalleeOnlyNotifiesCaller(t *testing.T) {
	relay, bus, busy, _, messenger := newTestRelay(map[uint][]uint{9: {1, 2}})
	busy.data[busyKey(2)] = []byte("call-existing")

	if err := relay.Initiate(1, 2, "video", 9, "call-new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 只有主叫收到忙線通知，被叫完全無感
	if len(bus.published) != 1 {
		t.Fatalf("expected exactly 1 push, got %d", len(bus.published))
	}
	got := bus.published[0]
	if got.subject != storage.UserSubject(1) {
		t.Errorf("busy notice went to %s, want caller's subject", got.subject)
	}
	if got.frame.Event != EventCallBusy {
		t.Errorf("expected %s, got %s", EventCallBusy, got.frame.Event)
	}

	// 既有通話不受影響
	if string(busy.data[busyKey(2)]) != "call-existing" {
		t.Errorf("existing busy flag was modified: %q", busy.data[busyKey(2)])
	}
	if len(messenger.contents) != 0 {
		t.Errorf("no system message expected, got %v", messenger.contents)
	}
}

func TestInitiate_RingsCallee(t *testing.T) {
	relay, bus, _, _, _ := newTestRelay(map[uint][]uint{9: {1, 2}})

	if err := relay.Initiate(1, 2, "video", 9, "call-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := bus.framesFor(storage.UserSubject(2))
	if len(frames) != 1 || frames[0].Event != EventInitiateCall {
		t.Fatalf("expected one INITIATE_CALL for callee, got %v", frames)
	}
	var payload CallPayload
	if err := json.Unmarshal(frames[0].Data, &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if payload.CallerID != 1 || payload.CallID != "call-1" {
		t.Errorf("unexpected ring payload: %+v", payload)
	}
}

func TestInitiate_NonMemberForcesEnd(t *testing.T) {
	relay, bus, _, _, messenger := newTestRelay(map[uint][]uint{9: {1}})

	err := relay.Initiate(1, 2, "video", 9, "call-1")
	if err != ErrNotMember {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	// 雙方都收到強制結束
	if frames := bus.framesFor(storage.UserSubject(1)); len(frames) != 1 || frames[0].Event != EventEndCall {
		t.Errorf("expected END_CALL for caller, got %v", frames)
	}
	if frames := bus.framesFor(storage.UserSubject(2)); len(frames) != 1 || frames[0].Event != EventEndCall {
		t.Errorf("expected END_CALL for callee, got %v", frames)
	}
	// 從未接通，結束時插入未接系統消息
	if len(messenger.contents) != 1 || messenger.contents[0] != "未接通話" {
		t.Errorf("expected missed-call summary, got %v", messenger.contents)
	}
	if len(messenger.conversations) != 1 || messenger.conversations[0] != 9 {
		t.Errorf("summary went to conversation %v, want 9", messenger.conversations)
	}
}

func TestAcceptThenEnd(t *testing.T) {
	relay, bus, busy, calls, messenger := newTestRelay(map[uint][]uint{9: {1, 2}})

	if err := relay.Accept(1, 2, "peer-x", "call-1", "conn-b"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	// 被叫其他連接的響鈴被取消，接聽的那條被排除
	calleeFrames := bus.framesFor(storage.UserSubject(2))
	if len(calleeFrames) != 1 || calleeFrames[0].Event != EventCancelIncomingCall {
		t.Fatalf("expected CANCEL_INCOMING_CALL for callee, got %v", calleeFrames)
	}
	if calleeFrames[0].ExcludeConnID != "conn-b" {
		t.Errorf("accepting connection should be excluded, got %q", calleeFrames[0].ExcludeConnID)
	}
	if frames := bus.framesFor(storage.UserSubject(1)); len(frames) != 1 || frames[0].Event != EventAcceptedCall {
		t.Errorf("expected ACCEPTED_CALL for caller, got %v", frames)
	}

	// 雙方進入忙線，通話記錄寫入
	if string(busy.data[busyKey(1)]) != "call-1" || string(busy.data[busyKey(2)]) != "call-1" {
		t.Errorf("expected both parties busy: %v", busy.data)
	}
	if _, ok := calls.data["call-1"]; !ok {
		t.Error("expected call record to exist after accept")
	}

	if err := relay.End(1, 2, "call-1", 9); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	if len(busy.data) != 0 {
		t.Errorf("expected busy flags cleared, got %v", busy.data)
	}
	if _, ok := calls.data["call-1"]; ok {
		t.Error("expected call record removed after end")
	}
	if len(messenger.contents) != 1 || !strings.HasPrefix(messenger.contents[0], "通話時長 ") {
		t.Errorf("expected duration summary, got %v", messenger.contents)
	}
}

func TestCallOutcome_NeverAnswered(t *testing.T) {
	// 開始時間缺失代表通話未接通過
	got := callOutcome(0, time.Now())
	if got != "未接通話" {
		t.Errorf("expected missed-call outcome, got %q", got)
	}
}

func TestCallOutcome_Duration(t *testing.T) {
	now := time.Now()
	started := now.Add(-3*time.Minute - 25*time.Second).UnixMilli()

	got := callOutcome(started, now)
	want := "通話時長 03:25"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCallOutcome_ClockSkew(t *testing.T) {
	// 開始時間在未來時不應產生負時長
	now := time.Now()
	started := now.Add(time.Minute).UnixMilli()

	got := callOutcome(started, now)
	if got != "通話時長 00:00" {
		t.Errorf("expected zero duration, got %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{time.Minute, "01:00"},
		{61 * time.Minute, "01:01:00"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, c := range cases {
		if got := formatDuration(c.d); got != c.want {
			t.Errorf("formatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
