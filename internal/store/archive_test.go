package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/modwatch/internal/types"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "db", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func completedTask(id string) types.TaskState {
	return types.TaskState{TaskID: id, Phase: types.PhaseCompleted, Progress: []string{"scraped 2 posts", "analyzed comments"}}
}

func TestArchive_SaveAndLoadTask(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	items := []types.ContentItem{
		item("https://www.youtube.com/watch?v=b", "hate", "neutral"),
		item("https://www.linkedin.com/posts/a", "toxic"),
		{URL: "https://instagram.com/p/empty", CommentCount: 0},
	}
	items[0].Comments[0].AuthorProfileURL = "https://youtube.com/@someone"

	require.NoError(t, a.SaveTask(ctx, "session-1", completedTask("t-1"), items))

	task, loaded, err := a.LoadTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.TaskID)
	assert.Equal(t, types.PhaseCompleted, task.Phase)
	assert.Equal(t, []string{"scraped 2 posts", "analyzed comments"}, task.Progress)

	require.Len(t, loaded, 3)
	assert.Equal(t, urls(items), urls(loaded))
	assert.Equal(t, items[0].Comments, loaded[0].Comments)
	assert.Equal(t, items[1].Comments, loaded[1].Comments)
	assert.Empty(t, loaded[2].Comments)
}

func TestArchive_SaveTaskReplacesItems(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveTask(ctx, "s", completedTask("t-1"), []types.ContentItem{
		item("https://a", "hate"), item("https://b"),
	}))
	require.NoError(t, a.SaveTask(ctx, "s", completedTask("t-1"), []types.ContentItem{
		item("https://c", "neutral"),
	}))

	_, loaded, err := a.LoadTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://c"}, urls(loaded))
}

func TestArchive_LatestTask(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	_, _, err := a.LatestTask(ctx)
	assert.ErrorIs(t, err, ErrNoArchivedTask)

	require.NoError(t, a.SaveTask(ctx, "s", completedTask("t-1"), []types.ContentItem{item("https://a")}))
	require.NoError(t, a.SaveTask(ctx, "s", completedTask("t-2"), []types.ContentItem{item("https://b")}))
	failed := types.TaskState{TaskID: "t-3", Phase: types.PhaseFailed, ErrorMessage: "boom"}
	require.NoError(t, a.SaveTask(ctx, "s", failed, nil))

	task, items, err := a.LatestTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t-2", task.TaskID)
	assert.Equal(t, []string{"https://b"}, urls(items))
}

func TestArchive_LoadTaskMissing(t *testing.T) {
	a := openTestArchive(t)
	_, _, err := a.LoadTask(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoArchivedTask)
}

func TestArchive_ListTasks(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveTask(ctx, "s-1", completedTask("t-1"), []types.ContentItem{
		item("https://a", "hate", "neutral"), item("https://b", "neutral"),
	}))
	failed := types.TaskState{TaskID: "t-2", Phase: types.PhaseFailed, ErrorMessage: "quota exceeded"}
	require.NoError(t, a.SaveTask(ctx, "s-2", failed, nil))

	records, err := a.ListTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "t-2", records[0].TaskID)
	assert.Equal(t, types.PhaseFailed, records[0].Phase)
	assert.Equal(t, "quota exceeded", records[0].Error)
	assert.Zero(t, records[0].Items)

	assert.Equal(t, "t-1", records[1].TaskID)
	assert.Equal(t, "s-1", records[1].SessionID)
	assert.Equal(t, 2, records[1].Items)
	assert.Equal(t, 3, records[1].Comments)
	assert.False(t, records[1].ArchivedAt.IsZero())

	limited, err := a.ListTasks(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
