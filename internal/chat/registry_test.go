package chat_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/haventalk/haven/internal/chat"
	"github.com/haventalk/haven/internal/transport"
)

// TestCreateRoomRejectsDuplicateName verifies that room names stay unique in
// the registry regardless of how many times creation is attempted.
func TestCreateRoomRejectsDuplicateName(t *testing.T) {
	reg := newTestRegistry()
	conn, _ := transport.Pipe()

	if _, err := reg.CreateRoom("Lobby", "", 4, "Alice", conn); err != nil {
		t.Fatalf("first CreateRoom: %v", err)
	}

	other, _ := transport.Pipe()
	if _, err := reg.CreateRoom("Lobby", "pw", 8, "Bob", other); !errors.Is(err, chat.ErrRoomExists) {
		t.Errorf("second CreateRoom = %v, want ErrRoomExists", err)
	}
	if reg.RoomCount() != 1 {
		t.Errorf("RoomCount = %d, want 1", reg.RoomCount())
	}
}

// TestCreateRoomRejectsBadCapacity verifies that a non-positive capacity is
// an input error, not silently clamped.
func TestCreateRoomRejectsBadCapacity(t *testing.T) {
	reg := newTestRegistry()
	conn, _ := transport.Pipe()

	for _, capacity := range []int{0, -1} {
		if _, err := reg.CreateRoom("Lobby", "", capacity, "Alice", conn); !errors.Is(err, chat.ErrBadCapacity) {
			t.Errorf("CreateRoom(capacity=%d) = %v, want ErrBadCapacity", capacity, err)
		}
	}
	if reg.RoomCount() != 0 {
		t.Errorf("RoomCount = %d, want 0", reg.RoomCount())
	}
}

// TestLookup verifies lookup of present and absent rooms.
func TestLookup(t *testing.T) {
	reg := newTestRegistry()
	conn, _ := transport.Pipe()
	created, _ := reg.CreateRoom("Lobby", "", 4, "Alice", conn)

	room, err := reg.Lookup("Lobby")
	if err != nil || room != created {
		t.Errorf("Lookup(Lobby) = %v, %v", room, err)
	}
	if _, err := reg.Lookup("Nowhere"); !errors.Is(err, chat.ErrNoRoom) {
		t.Errorf("Lookup(Nowhere) = %v, want ErrNoRoom", err)
	}
}

// TestSnapshotIsOrderedCopy verifies that the snapshot is ordered by name and
// carries the password and both counts for each room.
func TestSnapshotIsOrderedCopy(t *testing.T) {
	reg := newTestRegistry()
	c1, _ := transport.Pipe()
	c2, _ := transport.Pipe()
	reg.CreateRoom("Zoo", "secret", 3, "Alice", c1)
	reg.CreateRoom("Attic", "", 2, "Bob", c2)

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap[0].Name != "Attic" || snap[1].Name != "Zoo" {
		t.Errorf("snapshot order = %s, %s; want Attic, Zoo", snap[0].Name, snap[1].Name)
	}
	if snap[0].Password != "" || snap[0].CurrentUsers != 1 || snap[0].MaxUsers != 2 {
		t.Errorf("Attic row = %+v", snap[0])
	}
	if snap[1].Password != "secret" || snap[1].CurrentUsers != 1 || snap[1].MaxUsers != 3 {
		t.Errorf("Zoo row = %+v", snap[1])
	}
}

// TestRemoveIfEmptyRemovesAndAllowsRecreate verifies that a room whose
// membership reaches zero is removed from the registry and its name becomes
// available again.
func TestRemoveIfEmptyRemovesAndAllowsRecreate(t *testing.T) {
	reg := newTestRegistry()
	conn, _ := transport.Pipe()
	room, _ := reg.CreateRoom("Lobby", "", 4, "Alice", conn)

	remaining, err := room.RemoveMember("Alice")
	if err != nil || remaining != 0 {
		t.Fatalf("RemoveMember = %d, %v", remaining, err)
	}
	if !reg.RemoveIfEmpty("Lobby") {
		t.Fatal("RemoveIfEmpty reported false for an empty room")
	}
	if _, err := reg.Lookup("Lobby"); !errors.Is(err, chat.ErrNoRoom) {
		t.Fatalf("room still present after removal: %v", err)
	}

	fresh, _ := transport.Pipe()
	if _, err := reg.CreateRoom("Lobby", "", 2, "Dana", fresh); err != nil {
		t.Errorf("recreate after removal: %v", err)
	}
}

// TestRemoveIfEmptyRechecksMembership verifies that a join racing in between
// the triggering leave and the cleanup call keeps the room alive.
func TestRemoveIfEmptyRechecksMembership(t *testing.T) {
	reg := newTestRegistry()
	conn, _ := transport.Pipe()
	room, _ := reg.CreateRoom("Lobby", "", 4, "Alice", conn)

	room.RemoveMember("Alice")

	// A join repopulates the room before cleanup runs.
	late, _ := transport.Pipe()
	if err := room.AddMember("Eve", late, ""); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if reg.RemoveIfEmpty("Lobby") {
		t.Error("RemoveIfEmpty removed a repopulated room")
	}
	if _, err := reg.Lookup("Lobby"); err != nil {
		t.Errorf("room missing after failed removal: %v", err)
	}
}

// TestJoinOnRemovedRoomIsRejected verifies the lookup/remove/join
// interleaving: a session that looked a room up before its last member left
// must not be able to seat itself in the removed room through the stale
// handle. The join fails with ErrNoRoom and a recreated room of the same
// name is unaffected.
func TestJoinOnRemovedRoomIsRejected(t *testing.T) {
	reg := newTestRegistry()
	conn, _ := transport.Pipe()
	room, _ := reg.CreateRoom("Lobby", "", 4, "Alice", conn)

	// The joiner resolves the handle first.
	stale, err := reg.Lookup("Lobby")
	if err != nil || stale != room {
		t.Fatalf("Lookup = %v, %v", stale, err)
	}

	// The last member leaves and the room is removed.
	if _, err := room.RemoveMember("Alice"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if !reg.RemoveIfEmpty("Lobby") {
		t.Fatal("RemoveIfEmpty reported false for an empty room")
	}

	// The join lands on the stale handle after removal.
	late, _ := transport.Pipe()
	if err := stale.AddMember("Eve", late, ""); !errors.Is(err, chat.ErrNoRoom) {
		t.Fatalf("AddMember on removed room = %v, want ErrNoRoom", err)
	}
	if stale.MemberCount() != 0 {
		t.Errorf("removed room count = %d, want 0", stale.MemberCount())
	}

	// A recreated room of the same name is a distinct, joinable room.
	freshCreator, _ := transport.Pipe()
	fresh, err := reg.CreateRoom("Lobby", "", 4, "Bob", freshCreator)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if fresh == stale {
		t.Fatal("recreated room is the removed instance")
	}
	eve, _ := transport.Pipe()
	if err := fresh.AddMember("Eve", eve, ""); err != nil {
		t.Errorf("join recreated room = %v, want nil", err)
	}
}

// TestConcurrentJoinsNeverExceedCapacity verifies the capacity race: with
// capacity N and N+1 concurrent joins, exactly N succeed and the rest observe
// ROOM_FULL, with the count never exceeding N.
func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	const capacity = 8
	reg := newTestRegistry()
	creator, _ := transport.Pipe()
	room, _ := reg.CreateRoom("Lobby", "", capacity, "creator", creator)

	var wg sync.WaitGroup
	results := make(chan error, capacity+1)
	for i := 0; i < capacity+1; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, _ := transport.Pipe()
			results <- room.AddMember(fmt.Sprintf("user-%d", i), conn, "")
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, full int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, chat.ErrRoomFull):
			full++
		default:
			t.Errorf("unexpected join error: %v", err)
		}
	}

	// The creator holds one slot, so capacity-1 joins can succeed.
	if successes != capacity-1 || full != 2 {
		t.Errorf("successes = %d, full = %d; want %d and 2", successes, full, capacity-1)
	}
	if room.MemberCount() != capacity {
		t.Errorf("final count = %d, want %d", room.MemberCount(), capacity)
	}
}

// TestConnectionSet verifies the global connection set bookkeeping used by
// shutdown and UPDATE_DATA broadcasts.
func TestConnectionSet(t *testing.T) {
	reg := newTestRegistry()
	aSrv, aCli := transport.Pipe()
	bSrv, bCli := transport.Pipe()
	reg.AddConn(aSrv, "session-a")
	reg.AddConn(bSrv, "session-b")

	if reg.ConnCount() != 2 {
		t.Fatalf("ConnCount = %d, want 2", reg.ConnCount())
	}

	reg.BroadcastAll([]byte("SERVER_SHUTDOWN"), aSrv)
	expectMessage(t, bCli, "SERVER_SHUTDOWN")

	reg.BroadcastAll([]byte("UPDATE_DATA;"), nil)
	expectMessage(t, aCli, "UPDATE_DATA;")
	expectMessage(t, bCli, "UPDATE_DATA;")

	if !reg.RemoveConn(aSrv) {
		t.Error("first RemoveConn reported absent")
	}
	if reg.RemoveConn(aSrv) {
		t.Error("second RemoveConn reported present")
	}
	if reg.ConnCount() != 1 {
		t.Errorf("ConnCount = %d, want 1", reg.ConnCount())
	}
}
