package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesPrefixDirectory", func(t *testing.T) {
		base := t.TempDir()
		_, err := local.New(local.Config{BaseDir: base, Prefix: "/raw/"})
		require.NoError(t, err)
		info, err := os.Stat(filepath.Join(base, "raw"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "archive")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("LeavesNoProbeBehind", func(t *testing.T) {
		base := t.TempDir()
		_, err := local.New(local.Config{BaseDir: base})
		require.NoError(t, err)
		entries, err := os.ReadDir(base)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestPutObject(t *testing.T) {
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base, Prefix: "raw"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesBatch", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "reddit/2025/01/15/job-1.json", "application/json", strings.NewReader(`[{"external_id":"a1"}]`))
		require.NoError(t, err)
		want := filepath.Join(base, "raw", "reddit", "2025", "01", "15", "job-1.json")
		assert.Equal(t, "file://"+want, uri)

		data, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"external_id":"a1"}]`, string(data))

		entries, err := os.ReadDir(filepath.Dir(want))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temporary files must not remain")
	})

	t.Run("OverwritesExisting", func(t *testing.T) {
		_, err := store.PutObject(ctx, "telegram/job-2.json", "application/json", strings.NewReader("[1]"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "telegram/job-2.json", "application/json", strings.NewReader("[2]"))
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(base, "raw", "telegram", "job-2.json"))
		require.NoError(t, err)
		assert.Equal(t, "[2]", string(data))
	})

	t.Run("RejectsEscape", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../../outside.json", "application/json", strings.NewReader("[]"))
		assert.Error(t, err)
	})

	t.Run("RejectsEmptyName", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "application/json", strings.NewReader("[]"))
		assert.Error(t, err)
	})
}
