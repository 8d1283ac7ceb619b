package txn

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadTxnSeesSnapshotNotLaterWrites(t *testing.T) {
	s := openStore(t)

	w := s.Writer()
	require.NoError(t, w.Insert([]byte("a"), []byte("1")))
	require.NoError(t, w.Commit())

	r := s.Reader()
	defer r.Close()

	w2 := s.Writer()
	require.NoError(t, w2.Insert([]byte("b"), []byte("2")))
	require.NoError(t, w2.Commit())

	_, found, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, found, "snapshot reader must not observe a commit made after it opened")

	val, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)
}

func TestGetMinGetMax(t *testing.T) {
	s := openStore(t)

	w := s.Writer()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, w.Insert([]byte(k), []byte(k+"v")))
	}
	require.NoError(t, w.Commit())

	r := s.Reader()
	defer r.Close()

	k, v, found, err := r.GetMin()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), k)
	require.Equal(t, []byte("av"), v)

	k, v, found, err = r.GetMax()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("c"), k)
	require.Equal(t, []byte("cv"), v)
}

func TestRangeIteratesInOrderWithinBounds(t *testing.T) {
	s := openStore(t)

	w := s.Writer()
	for i := 0; i < 10; i++ {
		k := []byte(fmt.Sprintf("k%02d", i))
		require.NoError(t, w.Insert(k, k))
	}
	require.NoError(t, w.Commit())

	r := s.Reader()
	defer r.Close()

	it := r.Range([]byte("k02"), []byte("k05"))

	var got []string
	for {
		k, _, found, err := it.Next()
		require.NoError(t, err)
		if !found {
			break
		}
		got = append(got, string(k))
	}

	require.Equal(t, []string{"k02", "k03", "k04"}, got)
}

func TestRangeUnboundedCoversEverything(t *testing.T) {
	s := openStore(t)

	w := s.Writer()
	for i := 0; i < 5; i++ {
		k := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, w.Insert(k, k))
	}
	require.NoError(t, w.Commit())

	r := s.Reader()
	defer r.Close()

	it := r.Range(nil, nil)

	count := 0
	for {
		_, _, found, err := it.Next()
		require.NoError(t, err)
		if !found {
			break
		}
		count++
	}

	require.Equal(t, 5, count)
}

func TestClosedReadTxnErrors(t *testing.T) {
	s := openStore(t)

	r := s.Reader()
	r.Close()

	_, _, err := r.Get([]byte("a"))
	require.Error(t, err)
}
