package outbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadline/module/message"
)

func TestSqliteStore_PutDueDelete(t *testing.T) {
	store, err := OpenSqliteStore(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	items := []*Item{
		{ThreadID: "t1", ClientMsgID: "c1", Kind: message.KindText, Body: "first", CreatedAtMS: 100},
		{ThreadID: "t1", ClientMsgID: "c2", Kind: message.KindText, Body: "second", CreatedAtMS: 200, NextRetryAtMS: 5000},
		{ThreadID: "t2", ClientMsgID: "c1", Kind: message.KindMedia, CreatedAtMS: 300,
			Attachments: []message.Attachment{{StoragePath: "a/b.png", MimeType: "image/png"}}},
	}
	for _, it := range items {
		require.NoError(t, store.Put(ctx, it))
	}

	due, err := store.Due(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, due, 2, "c2 is not due yet")
	assert.Equal(t, "c1", due[0].ClientMsgID, "oldest first")
	assert.Equal(t, "first", due[0].Body)
	require.Len(t, due[1].Attachments, 1)
	assert.Equal(t, "a/b.png", due[1].Attachments[0].StoragePath)

	due, err = store.Due(ctx, 10000)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	require.NoError(t, store.Delete(ctx, "t1", "c1"))
	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSqliteStore_PutUpsertsRetryState(t *testing.T) {
	store, err := OpenSqliteStore(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	it := &Item{ThreadID: "t1", ClientMsgID: "c1", Kind: message.KindText, Body: "hello", CreatedAtMS: 100}
	require.NoError(t, store.Put(ctx, it))

	it.Attempts = 3
	it.NextRetryAtMS = 9999
	require.NoError(t, store.Put(ctx, it))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "same key stays one row")
	assert.Equal(t, 3, all[0].Attempts)
	assert.EqualValues(t, 9999, all[0].NextRetryAtMS)
	assert.Equal(t, "hello", all[0].Body, "original payload untouched by the retry upsert")
}

func TestSqliteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	store, err := OpenSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &Item{ThreadID: "t1", ClientMsgID: "c1", Body: "persisted", CreatedAtMS: 1}))
	require.NoError(t, store.Close())

	reopened, err := OpenSqliteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "persisted", all[0].Body)
}
