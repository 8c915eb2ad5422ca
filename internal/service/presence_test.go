package service

import (
	"sync"
	"testing"
	"time"
)

func TestOfflineDebouncer_FiresAfterGrace(t *testing.T) {
	fired := make(chan uint, 1)
	d := newOfflineDebouncer(20*time.Millisecond, func(userID uint) {
		fired <- userID
	})

	d.Arm(7)

	select {
	case userID := <-fired:
		if userID != 7 {
			t.Errorf("expected user 7, got %d", userID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("debouncer did not fire after grace period")
	}
}

func TestOfflineDebouncer_CancelSuppressesFire(t *testing.T) {
	fired := make(chan uint, 1)
	d := newOfflineDebouncer(20*time.Millisecond, func(userID uint) {
		fired <- userID
	})

	d.Arm(7)
	if !d.Cancel(7) {
		t.Fatal("Cancel should report an armed timer")
	}

	select {
	case <-fired:
		t.Fatal("debouncer fired despite cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOfflineDebouncer_CancelWithoutArm(t *testing.T) {
	d := newOfflineDebouncer(time.Minute, func(uint) {})
	if d.Cancel(1) {
		t.Error("Cancel without an armed timer should return false")
	}
}

func TestOfflineDebouncer_ReconnectCycleFiresOnce(t *testing.T) {
	var mu sync.Mutex
	count := 0
	d := newOfflineDebouncer(20*time.Millisecond, func(uint) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	// 斷線 → 重連 → 再斷線：只有最後一次倒數應該觸發
	d.Arm(3)
	d.Cancel(3)
	d.Arm(3)

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected exactly 1 fire, got %d", count)
	}
}

func TestOfflineDebouncer_RearmResets(t *testing.T) {
	fired := make(chan struct{}, 2)
	d := newOfflineDebouncer(30*time.Millisecond, func(uint) {
		fired <- struct{}{}
	})

	d.Arm(5)
	d.Arm(5) // 重複 Arm 重置倒數，不應產生兩次觸發

	time.Sleep(150 * time.Millisecond)

	if len(fired) != 1 {
		t.Errorf("expected exactly 1 fire after re-arm, got %d", len(fired))
	}
}
