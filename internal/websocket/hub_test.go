package websocket

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub, userID string) *Client {
	return NewClient(h, nil, userID, userID, models.RoleViewer)
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHub_SendToUserFansOut(t *testing.T) {
	h := NewHub()
	a1, a2 := newTestClient(h, "alice"), newTestClient(h, "alice")
	b := newTestClient(h, "bob")
	h.Register(a1)
	h.Register(a2)
	h.Register(b)

	assert.Equal(t, 2, h.SendToUser("alice", []byte("hi")))
	assert.Len(t, drain(a1), 1)
	assert.Len(t, drain(a2), 1)
	assert.Empty(t, drain(b))
	assert.Equal(t, 0, h.SendToUser("nobody", []byte("hi")))
	assert.Equal(t, 3, h.Count())
	assert.Equal(t, []string{"alice", "bob"}, h.ConnectedUsers())
}

func TestHub_BroadcastToRoomExactMembers(t *testing.T) {
	h := NewHub()
	lead := newTestClient(h, "lead")
	op := newTestClient(h, "op")
	h.Register(lead, DefaultRooms(models.RoleSecurityLead)...)
	h.Register(op, DefaultRooms(models.RoleOperator)...)
	// Joining twice must not double deliver.
	assert.True(t, h.JoinRoom(lead, RoomSecurityAlerts))

	assert.Equal(t, 1, h.BroadcastToRoom(RoomSecurityAlerts, []byte("alert")))
	assert.Len(t, drain(lead), 1)
	assert.Empty(t, drain(op))

	assert.Equal(t, 2, h.BroadcastToRoom(RoomAllUsers, []byte("all")))
	assert.Equal(t, 0, h.BroadcastToRoom("ghost-room", []byte("x")))

	h.LeaveRoom(lead, RoomSecurityAlerts)
	assert.Equal(t, 0, h.BroadcastToRoom(RoomSecurityAlerts, []byte("alert")))
}

func TestHub_JoinAfterUnregisterIsIgnored(t *testing.T) {
	h := NewHub()
	first := newTestClient(h, "lead")
	h.Register(first, RoomAllUsers)
	h.Unregister(first)

	assert.False(t, h.JoinRoom(first, RoomSecurityAlerts))
	assert.Empty(t, h.RoomMembers(RoomSecurityAlerts))

	// A later connection of the same user does not inherit the stale room.
	second := newTestClient(h, "lead")
	h.Register(second, RoomAllUsers)
	assert.Equal(t, 0, h.BroadcastToRoom(RoomSecurityAlerts, []byte("alert")))
	assert.Empty(t, drain(second))
}

func TestHub_LogsSnakeCaseUserField(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	h := NewHub()
	c := newTestClient(h, "alice")
	h.Register(c, RoomAllUsers)
	h.Unregister(c)

	assert.Contains(t, buf.String(), `"user_id":"alice"`)
	assert.NotContains(t, buf.String(), `"userId"`)
}

func TestHub_FullBufferIsPruned(t *testing.T) {
	h := NewHub()
	slow := newTestClient(h, "slow")
	fast := newTestClient(h, "fast")
	h.Register(slow, RoomAllUsers)
	h.Register(fast, RoomAllUsers)

	for i := 0; i < sendBufSize; i++ {
		require.Equal(t, 1, h.SendToUser("slow", []byte("fill")))
	}
	sent := h.BroadcastToRoom(RoomAllUsers, []byte("next"))
	assert.Equal(t, 1, sent, "the full client is dropped, the broadcast continues")
	assert.Equal(t, StateClosed, slow.State())
	assert.False(t, h.IsConnected("slow"))
	assert.Len(t, drain(fast), 1)
	assert.Equal(t, []string{"fast"}, h.RoomMembers(RoomAllUsers))

	// Sending to a pruned client is a no-op, not a panic.
	assert.False(t, slow.Send([]byte("late")))
}

func TestHub_UnregisterIdempotentAndLeavesRooms(t *testing.T) {
	h := NewHub()
	c1, c2 := newTestClient(h, "sup"), newTestClient(h, "sup")
	h.Register(c1, DefaultRooms(models.RoleSupervisor)...)
	h.Register(c2)
	assert.Equal(t, StateJoined, c1.State())

	h.Unregister(c1)
	h.Unregister(c1)
	assert.Equal(t, []string{"sup"}, h.RoomMembers(RoomSupervisors), "rooms are kept while a connection remains")

	h.Unregister(c2)
	assert.Empty(t, h.RoomMembers(RoomSupervisors))
	assert.Empty(t, h.RoomMembers(RoomAllUsers))
	assert.Zero(t, h.Count())
}

func TestHub_ConcurrentUse(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestClient(h, fmt.Sprintf("u%d", i%5))
			h.Register(c, RoomAllUsers)
			for j := 0; j < 50; j++ {
				h.BroadcastToRoom(RoomAllUsers, []byte("x"))
				drain(c)
			}
			h.Unregister(c)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, h.Count())
	assert.Empty(t, h.RoomMembers(RoomAllUsers))
}

func TestDefaultRooms(t *testing.T) {
	assert.Equal(t, []string{RoomAllUsers}, DefaultRooms(models.RoleViewer))
	assert.Equal(t, []string{RoomAllUsers, RoomSecurityAlerts, RoomCases}, DefaultRooms(models.RoleSecurityLead))
	assert.Equal(t, []string{RoomAllUsers, RoomMovements}, DefaultRooms(models.RoleOperator))
	assert.Equal(t, []string{RoomAllUsers, RoomSecurityAlerts, RoomCases, RoomSupervisors, RoomMovements}, DefaultRooms(models.RoleAdmin))
}
