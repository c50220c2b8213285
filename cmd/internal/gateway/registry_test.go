package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	a := NewClient("a", TransportTCP, "10.0.0.1:5000", 0)
	b := NewClient("b", TransportWS, "10.0.0.2:5000", 0)
	require.True(t, r.Add(a))
	require.True(t, r.Add(b))
	assert.False(t, r.Add(a), "duplicate id")
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	assert.True(t, r.Associate("a", "alice123"))
	assert.True(t, r.Associate("a", "bob"))
	assert.False(t, r.Associate("zzz", "bob"))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "bob", snap[0].Username, "last association wins")
	assert.Equal(t, TransportWS, snap[1].Transport)

	removed, ok := r.Remove("a")
	require.True(t, ok)
	assert.Same(t, a, removed)
	_, ok = r.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_FindByUsernameAcceptOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	first := NewClient("c1", TransportTCP, "", 0)
	second := NewClient("c2", TransportTCP, "", 0)
	r.Add(first)
	r.Add(second)
	r.Associate("c2", "alice123")
	r.Associate("c1", "alice123")

	got, ok := r.FindByUsername("alice123")
	require.True(t, ok)
	assert.Same(t, first, got)

	r.Remove("c1")
	got, ok = r.FindByUsername("alice123")
	require.True(t, ok)
	assert.Same(t, second, got)

	_, ok = r.FindByUsername("nobody")
	assert.False(t, ok)
}

func TestPendingTable_OnePerConnection(t *testing.T) {
	t.Parallel()
	p := NewPendingTable()

	id, err := p.Begin("c1", "r1", "login", "alice123")
	require.NoError(t, err)
	assert.Len(t, id, 26)

	_, err = p.Begin("c1", "r2", "whoami", "")
	assert.ErrorIs(t, err, ErrRequestInFlight)

	other, err := p.Begin("c2", "", "login", "alice123")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, p.Len())

	got, ok := p.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, "c1", got.ConnID)
	assert.Equal(t, "r1", got.ClientID)
	assert.Equal(t, "alice123", got.Username)

	_, ok = p.Resolve(id)
	assert.False(t, ok, "resolve is one-shot")

	_, err = p.Begin("c1", "r3", "logout", "")
	assert.NoError(t, err, "slot freed by resolve")
}

func TestPendingTable_DropConnection(t *testing.T) {
	t.Parallel()
	p := NewPendingTable()

	id, err := p.Begin("c1", "", "login", "x")
	require.NoError(t, err)
	p.DropConnection("c1")
	p.DropConnection("c1")

	_, ok := p.Resolve(id)
	assert.False(t, ok)
	assert.Zero(t, p.Len())
}

func TestClient_EnqueueBounded(t *testing.T) {
	t.Parallel()
	c := NewClient("c", TransportTCP, "", 2)
	// NewClient keeps small sizes as given; only the transports enforce a floor.
	assert.True(t, c.Enqueue(responseFor("a")))
	assert.True(t, c.Enqueue(responseFor("b")))
	assert.False(t, c.Enqueue(responseFor("c")), "full queue drops")

	c.Close()
	c.Close()
	<-c.Done()
	<-c.Outbox()
	assert.False(t, c.Enqueue(responseFor("d")), "closed client drops")
}

func TestClient_ConcurrentCloseAndEnqueue(t *testing.T) {
	t.Parallel()
	c := NewClient("c", TransportTCP, "", 8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Enqueue(responseFor("x"))
		}()
	}
	c.Close()
	wg.Wait()
}
