package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/fs"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(fs.NewReal(), dir, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpenBootstrapsEmptyDatabase(t *testing.T) {
	s := openStore(t)

	r := s.Reader()
	defer r.Close()

	_, _, found, err := r.GetMin()
	require.NoError(t, err)
	require.False(t, found)

	stats := s.Stats()
	require.Equal(t, uint64(0), stats.Ts)
	require.Equal(t, 1, stats.TablePageNums)
}

func TestReopenRecoversEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	s1, err := Open(fsys, dir, Options{})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(fsys, dir, Options{})
	require.NoError(t, err)
	defer s2.Close()

	r := s2.Reader()
	defer r.Close()

	_, _, found, err := r.GetMin()
	require.NoError(t, err)
	require.False(t, found)
}

func TestReopenRecoversWrittenKeys(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	s1, err := Open(fsys, dir, Options{})
	require.NoError(t, err)

	w := s1.Writer()
	require.NoError(t, w.Insert([]byte("a"), []byte("1")))
	require.NoError(t, w.Insert([]byte("b"), []byte("2")))
	require.NoError(t, w.Commit())

	require.NoError(t, s1.Close())

	s2, err := Open(fsys, dir, Options{})
	require.NoError(t, err)
	defer s2.Close()

	r := s2.Reader()
	defer r.Close()

	val, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)

	val, found, err = r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), val)
}

// TestFailedCommitDoesNotCorruptPriorState simulates a crash mid-commit: an
// injected write failure aborts the second commit, and reopening the same
// directory with a clean filesystem must still see exactly the first,
// successfully committed key.
func TestFailedCommitDoesNotCorruptPriorState(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()

	s1, err := Open(real, dir, Options{})
	require.NoError(t, err)

	w1 := s1.Writer()
	require.NoError(t, w1.Insert([]byte("a"), []byte("1")))
	require.NoError(t, w1.Commit())
	require.NoError(t, s1.Close())

	chaos := fs.NewChaos(real, 1, fs.ChaosConfig{WriteFailRate: 1})

	s2, err := Open(chaos, dir, Options{})
	require.NoError(t, err)

	w2 := s2.Writer()
	require.NoError(t, w2.Insert([]byte("b"), []byte("2")))

	err = w2.Commit()
	require.Error(t, err)
	require.NoError(t, s2.Close())

	s3, err := Open(real, dir, Options{})
	require.NoError(t, err)
	defer s3.Close()

	r := s3.Reader()
	defer r.Close()

	val, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found, "the first, already-committed key must survive the later failed commit")
	require.Equal(t, []byte("1"), val)

	_, found, err = r.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, found, "the aborted commit's key must not appear after recovery")
}

// TestRewriteFlushesPagesFromEveryCommitSinceLastBoundary forces a meta log
// rewrite after several small commits by pinning MetaLogMaxSize far below a
// single checkpoint's size, then reopens from a clean filesystem. Every key
// from every commit since the (in this case, very first) boundary must
// still be readable - the rewrite's dirty-page flush is derived from all of
// them merged, not just the commit that tipped the log over its threshold.
func TestRewriteFlushesPagesFromEveryCommitSinceLastBoundary(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()

	s1, err := Open(real, dir, Options{MetaLogMaxSize: 1})
	require.NoError(t, err)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}

	for i, k := range keys {
		w := s1.Writer()
		require.NoError(t, w.Insert(k, []byte{byte(i)}))
		require.NoError(t, w.Commit())
	}

	require.NoError(t, s1.Close())

	s2, err := Open(real, dir, Options{})
	require.NoError(t, err)
	defer s2.Close()

	r := s2.Reader()
	defer r.Close()

	for i, k := range keys {
		val, found, err := r.Get(k)
		require.NoError(t, err)
		require.True(t, found, "key %q must survive the rewrite triggered by a later commit", k)
		require.Equal(t, []byte{byte(i)}, val)
	}
}

func TestStatsReflectCommit(t *testing.T) {
	s := openStore(t)

	before := s.Stats()

	w := s.Writer()
	require.NoError(t, w.Insert([]byte("k"), []byte("v")))
	require.NoError(t, w.Commit())

	after := s.Stats()
	require.Equal(t, before.Ts+1, after.Ts)
	require.Greater(t, after.DataSize, before.DataSize)
}
