package transport

import (
	"testing"
	"time"

	"github.com/kabili207/meshroute/core"
)

func newTestTracker() (*NeighborTracker, *time.Time) {
	now := time.Unix(1000, 0)
	tr := NewNeighborTracker(NeighborTrackerConfig{
		KeepAliveInterval: time.Second,
		TimeoutMultiplier: 2,
	})
	tr.nowFn = func() time.Time { return now }
	return tr, &now
}

func TestNeighborTracker_RegisterAndIsConnected(t *testing.T) {
	tr, _ := newTestTracker()
	addr := core.Address("node-B")

	if tr.IsConnected(addr) {
		t.Fatal("IsConnected() = true before Register")
	}
	tr.Register(addr)
	if !tr.IsConnected(addr) {
		t.Fatal("IsConnected() = false after Register")
	}
}

func TestNeighborTracker_ConnectedNeighbors(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register(core.Address("B"))
	tr.Register(core.Address("C"))

	got := tr.ConnectedNeighbors()
	if len(got) != 2 {
		t.Fatalf("len(ConnectedNeighbors()) = %d, want 2", len(got))
	}
}

func TestNeighborTracker_RemoveDoesNotFireCallback(t *testing.T) {
	tr, _ := newTestTracker()
	addr := core.Address("B")
	tr.Register(addr)

	fired := false
	tr.SetOnDisconnect(func(core.Address) { fired = true })

	tr.Remove(addr)
	if tr.IsConnected(addr) {
		t.Fatal("IsConnected() = true after Remove")
	}
	if fired {
		t.Fatal("onDisconnect fired on explicit Remove")
	}
}

func TestNeighborTracker_CheckTimeoutsFiresCallback(t *testing.T) {
	tr, now := newTestTracker()
	addr := core.Address("B")
	tr.Register(addr)

	var disconnected core.Address
	tr.SetOnDisconnect(func(a core.Address) { disconnected = a })

	*now = now.Add(3 * time.Second) // exceeds 1s*2 timeout
	tr.CheckTimeouts()

	if tr.IsConnected(addr) {
		t.Error("neighbor still connected after timeout")
	}
	if disconnected != addr {
		t.Errorf("onDisconnect fired for %q, want %q", disconnected, addr)
	}
}

func TestNeighborTracker_TouchPreventsTimeout(t *testing.T) {
	tr, now := newTestTracker()
	addr := core.Address("B")
	tr.Register(addr)

	*now = now.Add(time.Second)
	tr.Touch(addr)

	*now = now.Add(time.Second) // 1s since touch, under the 2s timeout
	tr.CheckTimeouts()

	if !tr.IsConnected(addr) {
		t.Error("neighbor disconnected despite recent Touch")
	}
}
