package retry

import (
	"context"
	"errors"
	"testing"

	"seekcap-controlplane/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestReadRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Read(context.Background(), "widget", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
}

func TestReadGivesUpAsUpstreamUnavailable(t *testing.T) {
	calls := 0
	_, err := Read(context.Background(), "widget", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	require.True(t, errutil.Is(err, errutil.StatusUpstreamUnavailable))
	require.Equal(t, maxReadRetries+1, calls)
}

func TestReadStopsOnDomainError(t *testing.T) {
	calls := 0
	_, err := Read(context.Background(), "widget", func(ctx context.Context) (int, error) {
		calls++
		return 0, errutil.NotFound("widget not found", nil)
	})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
	require.Equal(t, 1, calls)
}

func TestOnConflictRetriesOnce(t *testing.T) {
	calls := 0
	_, err := OnConflict(context.Background(), "consume", func(ctx context.Context) (int, error) {
		calls++
		return 0, errutil.Conflict("lost race", nil)
	})
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	require.Equal(t, 2, calls)

	calls = 0
	v, err := OnConflict(context.Background(), "consume", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errutil.Conflict("lost race", nil)
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)

	calls = 0
	_, err = OnConflict(context.Background(), "consume", func(ctx context.Context) (int, error) {
		calls++
		return 0, errutil.InsufficientCredits(0, 5)
	})
	require.True(t, errutil.Is(err, errutil.StatusInsufficientCredits))
	require.Equal(t, 1, calls)
}
