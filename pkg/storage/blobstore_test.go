package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobStore(t *testing.T, threshold int64) *BlobStore {
	t.Helper()
	dir := t.TempDir()
	b, err := NewBlobStore(dir, threshold, 1<<20, 64*1024)
	require.NoError(t, err)
	return b
}

func TestBlobStoreInlineRoundTrip(t *testing.T) {
	p := newTestPool(t)
	b := newTestBlobStore(t, 1<<20)
	ctx := context.Background()
	content := []byte("hello world")

	var result *WriteResult
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		var err error
		result, err = b.SpoolAndStore(ctx, c, "fid-inline", bytes.NewReader(content), int64(len(content)))
		return err
	})
	require.NoError(t, err)
	assert.False(t, result.External)
	assert.Equal(t, int64(len(content)), result.Size)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		var buf bytes.Buffer
		err := b.ReadFull(ctx, c, "fid-inline", false, &buf)
		require.NoError(t, err)
		assert.Equal(t, content, buf.Bytes())
		return nil
	})
	require.NoError(t, err)
}

func TestBlobStoreExternalRoundTrip(t *testing.T) {
	p := newTestPool(t)
	b := newTestBlobStore(t, 4)
	ctx := context.Background()
	content := bytes.Repeat([]byte("x"), 4096)

	var result *WriteResult
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		var err error
		result, err = b.SpoolAndStore(ctx, c, "fid-external", bytes.NewReader(content), int64(len(content)))
		return err
	})
	require.NoError(t, err)
	assert.True(t, result.External)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		var buf bytes.Buffer
		err := b.ReadFull(ctx, c, "fid-external", true, &buf)
		require.NoError(t, err)
		assert.Equal(t, content, buf.Bytes())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.DeleteExternal("fid-external"))
	err = p.WithReader(ctx, func(c *ReadCursor) error {
		var buf bytes.Buffer
		return b.ReadFull(ctx, c, "fid-external", true, &buf)
	})
	assert.Error(t, err)
}

func TestBlobStoreReadRange(t *testing.T) {
	p := newTestPool(t)
	b := newTestBlobStore(t, 1<<20)
	ctx := context.Background()
	content := []byte("0123456789")

	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		_, err := b.SpoolAndStore(ctx, c, "fid-range", bytes.NewReader(content), int64(len(content)))
		return err
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		var buf bytes.Buffer
		err := b.ReadRange(ctx, c, "fid-range", false, 3, 4, &buf)
		require.NoError(t, err)
		assert.Equal(t, "3456", buf.String())
		return nil
	})
	require.NoError(t, err)
}

func TestResolveMimeType(t *testing.T) {
	assert.Equal(t, "text/custom", ResolveMimeType("a.txt", "text/custom", nil))
	assert.Equal(t, "text/plain", stripMimeParams("text/plain; charset=utf-8"))
	assert.Equal(t, "application/octet-stream", ResolveMimeType("noext", "", nil))
}
