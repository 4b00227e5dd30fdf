package celengine

import (
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(map[string]*cel.Type{
		"account_type":             cel.StringType,
		"can_access_paid_features": cel.BoolType,
	})
	require.NoError(t, err)
	return e
}

func TestEvaluate(t *testing.T) {
	e := newEngine(t)

	ok, err := e.Evaluate(`can_access_paid_features && account_type != "free"`, map[string]any{
		"account_type":             "pro",
		"can_access_paid_features": true,
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Evaluate(`can_access_paid_features && account_type != "free"`, map[string]any{
		"account_type":             "free",
		"can_access_paid_features": true,
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidate(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.Validate(`can_access_paid_features`))
	require.Error(t, e.Validate(`account_type`))
	require.Error(t, e.Validate(`unknown_var == 1`))
}

func TestStructToMap(t *testing.T) {
	type account struct {
		Type     string `json:"account_type"`
		Verified bool   `json:"is_payment_verified"`
	}

	m := StructToMap(account{Type: "free", Verified: true})
	require.Equal(t, "free", m["account_type"])
	require.Equal(t, true, m["is_payment_verified"])
	require.Empty(t, StructToMap(nil))
}
