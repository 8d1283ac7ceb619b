package metalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tdb/internal/fs"
	"github.com/calvinalkan/tdb/internal/objpos"
)

func TestTablePageRoundTrip(t *testing.T) {
	var p TablePage
	p[0] = objpos.New(4096, 10, objpos.TagLeaf)
	p[511] = objpos.New(8192, 20, objpos.TagBranch)

	got, err := DecodeTablePage(EncodeTablePage(p))
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestTableFileWriteReadPage(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	tf, err := OpenTableFile(fsys, dir)
	require.NoError(t, err)
	defer tf.Close()

	var p0, p1 TablePage
	p0[3] = objpos.New(0, 4096, objpos.TagLeaf)
	p1[7] = objpos.New(4096, 4096, objpos.TagLeaf)

	require.NoError(t, tf.WritePage(0, p0))
	require.NoError(t, tf.WritePage(1, p1))
	require.NoError(t, tf.Sync())

	got0, err := tf.ReadPage(0)
	require.NoError(t, err)
	require.Equal(t, p0, got0)

	got1, err := tf.ReadPage(1)
	require.NoError(t, err)
	require.Equal(t, p1, got1)

	all, err := tf.ReadPages(2)
	require.NoError(t, err)
	require.Equal(t, []TablePage{p0, p1}, all)
}
