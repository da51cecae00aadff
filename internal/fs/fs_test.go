package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "data.bin")

	f, err := Default.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	data, err := ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	info, err := Default.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	require.NoError(t, Default.Truncate(name, 2))
	data, err = ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("he"), data)

	entries, err := Default.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, Default.Remove(name))
	_, err = Default.Stat(name)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "MANIFEST")

	require.NoError(t, WriteAtomic(Default, name, dir, []byte("v1"), 0o644))
	data, err := ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	// Overwrite replaces content in one step.
	require.NoError(t, WriteAtomic(Default, name, dir, []byte("v2"), 0o644))
	data, err = ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	// No temp file may survive.
	_, err = Default.Stat(name + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAtomicKeepsOldContentOnFailure(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "MANIFEST")
	require.NoError(t, WriteAtomic(Default, name, dir, []byte("good"), 0o644))

	faulty := NewFaultyFS(Default)
	faulty.AddRule(".tmp", Fault{FailAfterBytes: 1})

	err := WriteAtomic(faulty, name, dir, []byte("replacement"), 0o644)
	require.ErrorIs(t, err, ErrInjected)

	// The original content survives and the temp file is cleaned up.
	data, err := ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), data)
	_, err = Default.Stat(name + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSFailAfterBytes(t *testing.T) {
	dir := t.TempDir()
	faulty := NewFaultyFS(Default)
	faulty.AddRule("limited", Fault{FailAfterBytes: 4})

	f, err := faulty.OpenFile(filepath.Join(dir, "limited.bin"), os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("1234"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = f.Write([]byte("5"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
}

func TestFaultyFSFailOnSync(t *testing.T) {
	dir := t.TempDir()
	faulty := NewFaultyFS(Default)
	faulty.AddRule("flaky", Fault{FailAfterBytes: -1, FailOnSync: true})

	f, err := faulty.OpenFile(filepath.Join(dir, "flaky.seg"), os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("ok"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
}

func TestFaultyFSUnmatchedFilesPassThrough(t *testing.T) {
	dir := t.TempDir()
	faulty := NewFaultyFS(Default)
	faulty.AddRule("other", Fault{FailAfterBytes: 0})

	f, err := faulty.OpenFile(filepath.Join(dir, "normal.bin"), os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("unaffected"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
}

func TestFaultyFSDelegation(t *testing.T) {
	dir := t.TempDir()
	faulty := NewFaultyFS(Default)

	sub := filepath.Join(dir, "subdir")
	require.NoError(t, faulty.MkdirAll(sub, 0o755))

	name := filepath.Join(sub, "test.bin")
	f, err := faulty.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, faulty.Truncate(name, 10))
	require.NoError(t, faulty.Rename(name, name+".renamed"))
	_, err = faulty.Stat(name + ".renamed")
	require.NoError(t, err)
	require.NoError(t, faulty.Remove(name + ".renamed"))

	entries, err := faulty.ReadDir(sub)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
