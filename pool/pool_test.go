package pool

import (
	"math/bits"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestAddFillsLowestFreeSlot(t *testing.T) {
	p := New[int](4)

	require.True(t, p.Add(10))
	require.True(t, p.Add(20))
	require.Equal(t, 2, p.NumElements())
	require.False(t, p.IsFull())

	require.True(t, p.Add(30))
	require.True(t, p.Add(40))
	require.True(t, p.IsFull())
	require.False(t, p.Add(50))
}

func TestRemoveFirstMatch(t *testing.T) {
	p := New[int](4)
	p.Add(1)
	p.Add(2)
	p.Add(2)

	removed := p.Remove(func(v *int) bool { return *v == 2 })
	require.True(t, removed)
	require.Equal(t, 2, p.NumElements())

	_, found := p.Find(func(v *int) bool { return *v == 99 })
	require.False(t, found)
}

func TestRemoveAllByPredicate(t *testing.T) {
	p := New[int](5)
	for _, v := range []int{1, 2, 1, 2, 1} {
		p.Add(v)
	}

	n := p.RemoveAll(func(v *int) bool { return *v == 1 })
	require.Equal(t, 3, n)
	require.Equal(t, 2, p.NumElements())
}

func TestIterateVisitsOccupiedSlotsInOrder(t *testing.T) {
	p := New[int](8)
	p.Add(1)
	p.Add(2)
	p.Add(3)
	p.Remove(func(v *int) bool { return *v == 2 })
	p.Add(4) // fills the slot Remove just freed

	var seen []int
	p.Iterate(func(_ int, v *int) bool {
		seen = append(seen, *v)
		return true
	})
	require.Equal(t, []int{1, 4, 3}, seen)
}

func TestIterateEarlyStop(t *testing.T) {
	p := New[int](8)
	for i := 0; i < 5; i++ {
		p.Add(i)
	}

	count := 0
	p.Iterate(func(_ int, _ *int) bool {
		count++
		return count < 2
	})
	require.Equal(t, 2, count)
}

func popcount(words []uint64) int {
	n := 0
	for _, w := range words {
		n += bits.OnesCount64(w)
	}
	return n
}

// TestPoolInvariants property-checks that numElements == popcount(bitmap)
// after any sequence of add/remove, and that iteration visits exactly the
// occupied slots.
func TestPoolInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("numElements matches bitmap popcount and iterate count", prop.ForAll(
		func(ops []uint8) bool {
			const capacity = 16
			p := New[int](capacity)
			next := 0
			for _, op := range ops {
				if op%3 == 0 && !p.IsEmpty() {
					p.Remove(func(v *int) bool { return true })
				} else if !p.IsFull() {
					p.Add(next)
					next++
				}
			}

			visited := 0
			p.Iterate(func(_ int, _ *int) bool {
				visited++
				return true
			})

			return p.NumElements() == popcount(p.occupied) && visited == p.NumElements()
		},
		gen.SliceOfN(200, gen.UInt8Range(0, 5)),
	))

	properties.TestingRun(t)
}
