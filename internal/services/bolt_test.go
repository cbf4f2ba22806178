package services_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/MegaGrindStone/llamachat/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltJournalRecent(t *testing.T) {
	j, err := services.NewBoltJournal(filepath.Join(t.TempDir(), "journal.db"), 3)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, j.Record(ctx, models.Exchange{
			ID:     fmt.Sprintf("ex-%d", i),
			Method: "POST",
			Path:   "/v1/chat/completions",
			Status: 200,
			Time:   time.Unix(int64(i), 0),
		}))
	}

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ex-4", got[0].ID)
	assert.Equal(t, "ex-3", got[1].ID)
	assert.Equal(t, "ex-2", got[2].ID)

	got, err = j.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ex-4", got[0].ID)
}

func TestNewBoltJournalLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := services.NewBoltJournal(path, 0)
	require.NoError(t, err)
	defer j.Close()

	start := time.Now()
	_, err = services.NewBoltJournal(path, 0)
	require.Error(t, err, "a journal held by another instance should not be opened")
	assert.Less(t, time.Since(start), 5*time.Second)
}
