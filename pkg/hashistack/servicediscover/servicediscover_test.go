package servicediscover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistration(t *testing.T) {
	reg := NewRegistration("seekcap-controlplane", "seekcap-controlplane-1", "10.0.0.7", 8080)

	require.Equal(t, "seekcap-controlplane-1", reg.ID)
	require.Equal(t, 8080, reg.Port)
	require.Equal(t, "http://10.0.0.7:8080/readyz", reg.Check.HTTP)
}
