package fieldsync

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassificationHelpers(t *testing.T) {
	ne := &NetworkError{Err: errors.New("dial tcp: connection refused")}
	require.True(t, IsNetworkError(ne))
	require.True(t, IsNetworkError(fmt.Errorf("replay failed: %w", ne)))
	require.False(t, IsApplicationError(ne))

	ae := &ApplicationError{StatusCode: http.StatusConflict}
	require.True(t, IsApplicationError(ae))
	require.True(t, ae.IsConflict())
	require.False(t, IsNetworkError(ae))

	require.False(t, (&ApplicationError{StatusCode: http.StatusBadRequest}).IsConflict())
}

func TestStorageErrorWraps(t *testing.T) {
	cause := errors.New("database is locked")
	err := storageErr("save_snapshot", cause)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "save_snapshot", se.Op)
	require.ErrorIs(t, err, cause)
}

func TestNetworkClassStatuses(t *testing.T) {
	require.True(t, statusIsNetworkClass(http.StatusBadGateway))
	require.True(t, statusIsNetworkClass(http.StatusServiceUnavailable))
	require.True(t, statusIsNetworkClass(http.StatusGatewayTimeout))
	require.True(t, statusIsNetworkClass(http.StatusRequestTimeout))
	require.False(t, statusIsNetworkClass(http.StatusConflict))
	require.False(t, statusIsNetworkClass(http.StatusInternalServerError))
	require.False(t, statusIsNetworkClass(http.StatusUnauthorized))
}
