package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestInvalidTransitionCarriesStates(t *testing.T) {
	err := InvalidTransition("license", "revoked", "active")

	be, ok := As(err)
	require.True(t, ok)
	require.Equal(t, StatusInvalidTransition, be.Status())
	require.Equal(t, http.StatusConflict, be.Code.HTTPStatus())
	require.Contains(t, be.Details, Detail{Field: "current", Message: "revoked"})
	require.Contains(t, be.Details, Detail{Field: "requested", Message: "active"})
}

func TestInsufficientCreditsDetails(t *testing.T) {
	err := InsufficientCredits(60, 100)
	require.True(t, Is(err, StatusInsufficientCredits))
	require.Contains(t, err.Error(), "remaining 60")
}

func TestPublicJSONHidesBackendError(t *testing.T) {
	err := Internal("failed to write to store", errors.New("pq: relation does not exist"))
	be, _ := As(err)

	public := fmt.Sprint(be.PublicJSON())
	private := fmt.Sprint(be.JSON())
	require.NotContains(t, public, "relation does not exist")
	require.Contains(t, private, "relation does not exist")
}

func TestFromStore(t *testing.T) {
	require.True(t, Is(FromStore(context.DeadlineExceeded, true), StatusUnknownOutcome))
	require.True(t, Is(FromStore(context.DeadlineExceeded, false), StatusUpstreamUnavailable))
	require.True(t, Is(FromStore(errors.New("boom"), true), StatusInternal))
	require.Nil(t, FromStore(nil, true))

	original := NotFound("license not found", nil)
	require.Equal(t, original, FromStore(original, false))
}

func TestToGRPCError(t *testing.T) {
	err := ToGRPCError(Conflict("stale write", nil))
	require.Equal(t, codes.Aborted, status.Code(err))

	err = ToGRPCError(InsufficientCredits(0, 1))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}
