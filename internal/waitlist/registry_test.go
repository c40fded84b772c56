// internal/waitlist/registry_test.go
package waitlist

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegistryFIFO(t *testing.T) {
	r := NewRegistry()

	for i, user := range []string{"bob", "carol", "dave"} {
		pos, err := r.Enqueue("Dune", user)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	head, ok := r.DequeueHead("dune")
	require.True(t, ok)
	assert.Equal(t, "bob", head)

	pos, ok := r.PositionOf("DUNE", "dave")
	require.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.Equal(t, []string{"carol", "dave"}, r.Queue("Dune"))
}

func TestRegistryDuplicateEnqueue(t *testing.T) {
	r := NewRegistry()
	_, err := r.Enqueue("Dune", "bob")
	require.NoError(t, err)

	_, err = r.Enqueue("dune", "bob")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 1, r.Len("Dune"))
}

func TestRegistryRemoveShiftsPositions(t *testing.T) {
	r := NewRegistry()
	for _, user := range []string{"a", "b", "c"} {
		_, err := r.Enqueue("Dune", user)
		require.NoError(t, err)
	}

	require.NoError(t, r.Remove("Dune", "a"))
	assert.ErrorIs(t, r.Remove("Dune", "a"), ErrNotQueued)
	assert.ErrorIs(t, r.Remove("Emma", "a"), ErrNotQueued)

	pos, _ := r.PositionOf("Dune", "c")
	assert.Equal(t, 2, pos)
}

func TestRegistryEmptyQueue(t *testing.T) {
	r := NewRegistry()

	_, ok := r.DequeueHead("Dune")
	assert.False(t, ok)
	_, ok = r.Head("Dune")
	assert.False(t, ok)
	_, ok = r.PositionOf("Dune", "bob")
	assert.False(t, ok)
	assert.Empty(t, r.Queue("Dune"))
	assert.Zero(t, r.Len("Dune"))

	_, err := r.Enqueue("Dune", "bob")
	require.NoError(t, err)
	_, ok = r.DequeueHead("Dune")
	require.True(t, ok)
	assert.Equal(t, []string{"Dune"}, r.Titles(), "an empty queue stays registered")
}

func TestRegistryPositionsFor(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Enqueue("Dune", "alice")
	_, _ = r.Enqueue("Dune", "bob")
	_, _ = r.Enqueue("Emma", "bob")
	_, _ = r.Enqueue("Hyperion", "alice")

	assert.Equal(t, map[string]int{"Dune": 2, "Emma": 1}, r.PositionsFor("bob"))
	assert.Empty(t, r.PositionsFor("zoe"))
}

func TestRegistryConcurrentEnqueue(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, _ = r.Enqueue("Dune", user)
			}(fmt.Sprintf("user-%d", i))
		}
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len("Dune"))
}

func TestRegistryUniquenessProperty(t *testing.T) {
	users := []string{"alice", "bob", "carol", "dave"}

	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		var model []string

		for i := rapid.IntRange(1, 60).Draw(t, "steps"); i > 0; i-- {
			user := rapid.SampledFrom(users).Draw(t, "user")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				pos, err := r.Enqueue("Dune", user)
				if contains(model, user) {
					if err == nil {
						t.Fatalf("duplicate enqueue of %s accepted", user)
					}
				} else {
					model = append(model, user)
					if pos != len(model) {
						t.Fatalf("position %d, want %d", pos, len(model))
					}
				}
			case 1:
				head, ok := r.DequeueHead("Dune")
				if ok != (len(model) > 0) {
					t.Fatalf("dequeue ok=%v with %d queued", ok, len(model))
				}
				if ok {
					if head != model[0] {
						t.Fatalf("dequeued %s, want %s", head, model[0])
					}
					model = model[1:]
				}
			case 2:
				err := r.Remove("Dune", user)
				if contains(model, user) != (err == nil) {
					t.Fatalf("remove %s: %v", user, err)
				}
				model = without(model, user)
			}

			got := r.Queue("Dune")
			if fmt.Sprint(got) != fmt.Sprint(model) {
				t.Fatalf("queue %v, want %v", got, model)
			}
		}
	})
}

func contains(users []string, user string) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}

func without(users []string, user string) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u != user {
			out = append(out, u)
		}
	}
	return out
}
