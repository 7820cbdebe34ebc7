package database

import (
	"context"
	"sync"
	"testing"

	"trackresync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentMarkerAccess(t *testing.T) {
	db := setupFileDB(t)
	store := db.PendingMarkers()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	errs := make(chan error, workers*3)

	for i := 0; i < workers; i++ {
		go func(id int64) {
			defer wg.Done()
			// Every worker races on the same key plus one of its own.
			errs <- store.Add(ctx, 1, models.KindManga)
			errs <- store.Add(ctx, 100+id, models.KindManga)
			errs <- store.Remove(ctx, 100+id, models.KindManga)
		}(int64(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	markers, err := store.List(ctx, models.KindManga)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, int64(1), markers[0].ItemID)
}
