package repository

import (
	"context"
	"testing"
	"time"

	"seekcap-controlplane/pkg/db/option"
	"seekcap-controlplane/pkg/db/pagination"
	"seekcap-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Owner     string    `gorm:"column:owner"`
	Status    string    `gorm:"column:status"`
	Count     int64     `gorm:"column:count"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func seedWidgets(t *testing.T) Repository[widget] {
	t.Helper()
	db := testutil.NewTestDB(t, &widget{})
	repo := ProvideStore[widget](db)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"w1", "w2", "w3"} {
		require.NoError(t, repo.Create(context.Background(), &widget{
			ID: id, Owner: "alice", Status: "pending", CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	return repo
}

func TestFindOneMissingReturnsNil(t *testing.T) {
	repo := seedWidgets(t)

	got, err := repo.FindOne(context.Background(), &widget{ID: "missing"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFindWithOptions(t *testing.T) {
	repo := seedWidgets(t)
	ctx := context.Background()

	out, err := repo.Find(ctx, &widget{Owner: "alice"},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.ApplyPagination(pagination.Pagination{Limit: 2}),
	)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "w3", out[0].ID)

	out, err = repo.Find(ctx, nil, option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: []string{"w1", "w3"}}))
	require.NoError(t, err)
	require.Len(t, out, 2)

	from := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	count, err := repo.Count(ctx, nil, option.WithRange("created_at", &from, nil))
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestInvalidColumnIsRejected(t *testing.T) {
	repo := seedWidgets(t)

	_, err := repo.Find(context.Background(), nil, option.ApplyOperator(option.Condition{Field: "id; DROP TABLE widgets", Operator: option.EQ, Value: 1}))
	require.Error(t, err)
}

func TestUpdateWhereCompareAndSet(t *testing.T) {
	repo := seedWidgets(t)
	ctx := context.Background()

	n, err := repo.UpdateWhere(ctx, map[string]any{"id": "w1", "count": 0}, map[string]any{"count": 5})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = repo.UpdateWhere(ctx, map[string]any{"id": "w1", "count": 0}, map[string]any{"count": 9})
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	got, err := repo.FindOne(ctx, &widget{ID: "w1"})
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Count)
}
