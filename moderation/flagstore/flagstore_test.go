package flagstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fernwood/warden/content"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testGormStore(t *testing.T) *GormFlagStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	store, err := NewGormFlagStore(db)
	require.NoError(t, err)
	return store
}

func TestFlagStoreLifecycle(t *testing.T) {
	for name, store := range map[string]FlagStore{
		"mem":  NewMemFlagStore(),
		"gorm": testGormStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			testFlagLifecycle(t, store)
		})
	}
}

func testFlagLifecycle(t *testing.T, store FlagStore) {
	assert := assert.New(t)
	ctx := context.Background()

	rec, err := store.CreateFlag(ctx, content.TypeComment, "c1", "author1", "Flagged for: Insult (91%)")
	require.NoError(t, err)
	assert.Equal(StatusPending, rec.Status)
	assert.Nil(rec.ResolvedAt)
	assert.Empty(rec.ResolvedBy)

	// at most one flag per content item
	_, err = store.CreateFlag(ctx, content.TypeComment, "c1", "author1", "Flagged for: Insult (91%)")
	assert.ErrorIs(err, ErrAlreadyFlagged)

	// same ID under a different type is distinct content
	_, err = store.CreateFlag(ctx, content.TypeReview, "c1", "author2", "Flagged for: Spam (75%)")
	assert.NoError(err)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(rec.ID, got.ID)

	_, err = store.Get(ctx, 99999)
	assert.ErrorIs(err, ErrNotFound)

	approved, err := store.Approve(ctx, rec.ID, "admin1")
	require.NoError(t, err)
	assert.Equal(StatusApproved, approved.Status)
	assert.NotNil(approved.ResolvedAt)
	assert.Equal("admin1", approved.ResolvedBy)

	// transitions are one-shot
	_, err = store.Approve(ctx, rec.ID, "admin2")
	assert.ErrorIs(err, ErrInvalidTransition)
	_, err = store.Reject(ctx, rec.ID, "admin2", "spam")
	assert.ErrorIs(err, ErrInvalidTransition)

	// record unchanged by the failed transition
	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(StatusApproved, got.Status)
	assert.Equal("admin1", got.ResolvedBy)

	_, err = store.Approve(ctx, 99999, "admin1")
	assert.ErrorIs(err, ErrNotFound)
}

func TestFlagStoreRejectDefaultReason(t *testing.T) {
	for name, store := range map[string]FlagStore{
		"mem":  NewMemFlagStore(),
		"gorm": testGormStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			rec, err := store.CreateFlag(ctx, content.TypeReview, "r1", "author1", "Flagged for: Spam (80%)")
			require.NoError(t, err)

			rejected, err := store.Reject(ctx, rec.ID, "admin1", "")
			require.NoError(t, err)
			assert.Equal(StatusRejected, rejected.Status)
			assert.Equal("Flagged for: Spam (80%)", rejected.RejectionReason)

			rec2, err := store.CreateFlag(ctx, content.TypeReview, "r2", "author1", "Flagged for: Spam (80%)")
			require.NoError(t, err)
			rejected, err = store.Reject(ctx, rec2.ID, "admin1", "duplicate listing")
			require.NoError(t, err)
			assert.Equal("duplicate listing", rejected.RejectionReason)
		})
	}
}

func TestFlagStoreListAndCounts(t *testing.T) {
	for name, store := range map[string]FlagStore{
		"mem":  NewMemFlagStore(),
		"gorm": testGormStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				_, err := store.CreateFlag(ctx, content.TypeComment, fmt.Sprintf("c%d", i), "author1", "Flagged for: Insult (90%)")
				require.NoError(t, err)
			}
			for i := 0; i < 3; i++ {
				_, err := store.CreateFlag(ctx, content.TypeReview, fmt.Sprintf("r%d", i), "author2", "Flagged for: Spam (75%)")
				require.NoError(t, err)
			}

			first, err := store.List(ctx, ListFilter{}, 1, 25)
			require.NoError(t, err)
			assert.Len(first, 8)
			_, err = store.Approve(ctx, first[0].ID, "admin1")
			require.NoError(t, err)

			pending, err := store.List(ctx, ListFilter{Status: StatusPending}, 1, 25)
			require.NoError(t, err)
			assert.Len(pending, 7)

			comments, err := store.List(ctx, ListFilter{ContentType: content.TypeComment}, 1, 25)
			require.NoError(t, err)
			assert.Len(comments, 5)

			paged, err := store.List(ctx, ListFilter{}, 2, 3)
			require.NoError(t, err)
			assert.Len(paged, 3)

			byAuthor, err := store.ListByAuthor(ctx, "author2", 1, 25)
			require.NoError(t, err)
			assert.Len(byAuthor, 3)

			byStatus, err := store.CountByStatus(ctx)
			require.NoError(t, err)
			assert.Equal(int64(7), byStatus[StatusPending])
			assert.Equal(int64(1), byStatus[StatusApproved])

			byType, err := store.CountByType(ctx)
			require.NoError(t, err)
			assert.Equal(int64(5), byType[string(content.TypeComment)])
			assert.Equal(int64(3), byType[string(content.TypeReview)])

			recent, err := store.RecentFlagged(ctx, 4)
			require.NoError(t, err)
			assert.Len(recent, 4)
			for _, r := range recent {
				assert.Equal(StatusPending, r.Status)
			}
		})
	}
}

// double-click protection: concurrent resolutions of one flag, exactly one
// may win
func TestFlagStoreConcurrentResolve(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewMemFlagStore()

	rec, err := store.CreateFlag(ctx, content.TypeComment, "c1", "author1", "Flagged for: Insult (91%)")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var err error
			if n%2 == 0 {
				_, err = store.Approve(ctx, rec.ID, fmt.Sprintf("admin%d", n))
			} else {
				_, err = store.Reject(ctx, rec.ID, fmt.Sprintf("admin%d", n), "spam")
			}
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(err, ErrInvalidTransition)
		}
	}
	assert.Equal(1, wins)
}
