package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func runTdb(t *testing.T, dir string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	var out, errOut bytes.Buffer
	fullArgs := append([]string{"tdb", "-C", dir}, args...)
	exitCode = Run(nil, &out, &errOut, fullArgs, nil, nil)

	return out.String(), errOut.String(), exitCode
}

func TestMainHelp(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no args", args: nil},
		{name: "long flag", args: []string{"--help"}},
		{name: "short flag", args: []string{"-h"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			out, errOut, code := runTdb(t, dir, tc.args...)

			require.Equal(t, 0, code)
			require.Empty(t, errOut)
			require.Contains(t, out, "tdb - embedded MVCC key-value store")
			require.Contains(t, out, "--dir")
			require.Contains(t, out, "get")
			require.Contains(t, out, "put")
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	_, errOut, code := runTdb(t, dir, "bogus")

	require.Equal(t, 1, code)
	require.Contains(t, errOut, "unknown command: bogus")
}

func TestPutThenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()

	_, _, code := runTdb(t, dir, "put", "a", "1")
	require.Equal(t, 0, code)

	out, _, code := runTdb(t, dir, "get", "a")
	require.Equal(t, 0, code)
	require.Equal(t, "1\n", out)
}

func TestGetMissingKeyWarns(t *testing.T) {
	dir := t.TempDir()

	_, errOut, code := runTdb(t, dir, "get", "nope")
	require.Equal(t, 1, code, "a warning must surface as exit code 1")
	require.Contains(t, errOut, "key not found: nope")
}

func TestDelRemovesKey(t *testing.T) {
	dir := t.TempDir()

	_, _, code := runTdb(t, dir, "put", "a", "1")
	require.Equal(t, 0, code)

	out, _, code := runTdb(t, dir, "del", "a")
	require.Equal(t, 0, code)
	require.Equal(t, "OK\n", out)

	_, errOut, code := runTdb(t, dir, "get", "a")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "key not found: a")
}

func TestRangeListsKeysInOrder(t *testing.T) {
	dir := t.TempDir()

	for _, kv := range [][2]string{{"b", "2"}, {"a", "1"}, {"c", "3"}} {
		_, _, code := runTdb(t, dir, "put", kv[0], kv[1])
		require.Equal(t, 0, code)
	}

	out, _, code := runTdb(t, dir, "range")
	require.Equal(t, 0, code)
	require.Equal(t, "a\t1\nb\t2\nc\t3\n", out)
}

func TestStatsReportsFields(t *testing.T) {
	dir := t.TempDir()

	_, _, code := runTdb(t, dir, "put", "a", "1")
	require.Equal(t, 0, code)

	out, _, code := runTdb(t, dir, "stats")
	require.Equal(t, 0, code)
	require.Contains(t, out, "ts=0")
	require.Contains(t, out, "root_oid=")
}

func TestPrintConfigShowsJSON(t *testing.T) {
	dir := t.TempDir()

	out, _, code := runTdb(t, dir, "print-config")
	require.Equal(t, 0, code)
	require.Contains(t, out, "{")
}
