package blob

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/procedo/internal/common"
)

func newStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s, dir
}

func TestLocalStore_PutGet(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	obj, err := s.Put(ctx, CasePrefix("org-1"), "Order No 1.PDF", []byte("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Key, "cases/org-1/"))
	assert.True(t, strings.HasSuffix(obj.Key, ".pdf"))
	assert.Len(t, obj.HashHex, 64)
	assert.Equal(t, int64(13), obj.Size)
	assert.False(t, obj.Deduplicated)
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(obj.Key)))

	data, err := s.Get(ctx, obj.Key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	assert.Equal(t, obj.Key, Key(CasePrefix("org-1"), "other.pdf", []byte("%PDF-1.4 body")))

	again, err := s.Put(ctx, CasePrefix("org-1"), "copy.pdf", []byte("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, obj.Key, again.Key)
	assert.True(t, again.Deduplicated)

	entries, err := os.ReadDir(filepath.Join(dir, "cases", "org-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestLocalStore_GetMissing(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Get(context.Background(), "cases/org-1/nope.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.Get(context.Background(), "/")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestLocalStore_KeysStayInsideRoot(t *testing.T) {
	s, dir := newStore(t)

	p, err := s.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, dir))
}
