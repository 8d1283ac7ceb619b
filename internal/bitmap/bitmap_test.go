package bitmap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	b := NewWithCapacity(128)

	require.False(t, b.Get(0))
	require.Equal(t, 128, b.FreeCount())

	b.Set(5, true)
	require.True(t, b.Get(5))
	require.Equal(t, 127, b.FreeCount())

	b.Set(5, false)
	require.False(t, b.Get(5))
	require.Equal(t, 128, b.FreeCount())
}

func TestExtendTo(t *testing.T) {
	b := New()
	b.ExtendTo(10)
	require.Equal(t, 10, b.Len())
	require.Equal(t, 10, b.FreeCount())

	b.Set(9, true)
	b.ExtendTo(200)
	require.Equal(t, 200, b.Len())
	require.True(t, b.Get(9))
	require.False(t, b.Get(199))
}

func TestFirstZeroFromWraps(t *testing.T) {
	b := NewWithCapacity(10)
	for i := 0; i < 10; i++ {
		if i != 3 {
			b.Set(i, true)
		}
	}

	i, ok := b.FirstZeroFrom(7)
	require.True(t, ok)
	require.Equal(t, 3, i)
}

func TestFirstZeroFromFullReturnsFalse(t *testing.T) {
	b := NewWithCapacity(64)
	for i := 0; i < 64; i++ {
		b.Set(i, true)
	}

	_, ok := b.FirstZeroFrom(10)
	require.False(t, ok)
	require.True(t, b.IsFull())
}

func TestFirstZeroFromAndSet(t *testing.T) {
	b := NewWithCapacity(64)
	b.Set(0, true)

	i, ok := b.FirstZeroFromAndSet(0)
	require.True(t, ok)
	require.Equal(t, 1, i)
	require.True(t, b.Get(1))
}

func TestFirstOneFrom(t *testing.T) {
	b := NewWithCapacity(64)
	b.Set(40, true)

	i, ok := b.FirstOneFrom(0)
	require.True(t, ok)
	require.Equal(t, 40, i)

	_, ok = b.FirstOne()
	require.True(t, ok)
}

// TestAgainstModel checks set/get/first-zero-from against a reference slice
// model across random operations.
func TestAgainstModel(t *testing.T) {
	const n = 300

	rng := rand.New(rand.NewSource(1))
	model := make([]bool, n)
	b := NewWithCapacity(n)

	for step := 0; step < 5000; step++ {
		i := rng.Intn(n)
		v := rng.Intn(2) == 1

		model[i] = v
		b.Set(i, v)

		require.Equal(t, model[i], b.Get(i))

		hint := rng.Intn(n)
		want := modelFirstZeroFrom(model, hint)
		got, ok := b.FirstZeroFrom(hint)

		if want == -1 {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, want, got)
		}
	}
}

func modelFirstZeroFrom(model []bool, hint int) int {
	n := len(model)
	for i := hint; i < n; i++ {
		if !model[i] {
			return i
		}
	}
	for i := 0; i < hint; i++ {
		if !model[i] {
			return i
		}
	}
	return -1
}
