package storage

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := store.SaveStream("documents/abc_plan.pdf", bytes.NewReader([]byte("%PDF-1.4 body")))
	require.NoError(t, err)
	require.Equal(t, "documents/abc_plan.pdf", name)
	require.True(t, store.Exists(name))

	file, err := store.Open(name)
	require.NoError(t, err)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.Equal(t, "%PDF-1.4 body", string(data))

	require.NoError(t, store.Delete(name))
	require.False(t, store.Exists(name))
	require.NoError(t, store.Delete(name))
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../outside.pdf", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = store.Open("/etc/passwd")
	require.ErrorIs(t, err, ErrInvalidPath)
	require.ErrorIs(t, store.Delete("a/../../b"), ErrInvalidPath)
}

func TestLocalStorageRemovesPartialUpload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("documents/broken.pdf", failingReader{})
	require.Error(t, err)
	require.False(t, store.Exists("documents/broken.pdf"))
}
