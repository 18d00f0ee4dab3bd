package filestore

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndOpen(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "files"))
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "../../cert.pdf", []byte("certificate"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "file://"))
	assert.True(t, strings.HasSuffix(ref, "/cert.pdf"))

	f, err := store.Open(ref)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "certificate", string(data))
}

func TestPutRejectsEmptyContent(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "a.txt", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestOpenRejectsForeignReferences(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, ref := range []string{"s3://bucket/a", "file://not-a-uuid/a", "file://x"} {
		_, err := store.Open(ref)
		assert.ErrorIs(t, err, fs.ErrNotExist, ref)
	}
}

func TestDistinctReferencesForSameName(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	a, err := store.Put(context.Background(), "doc.pdf", []byte("a"))
	require.NoError(t, err)
	b, err := store.Put(context.Background(), "doc.pdf", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
