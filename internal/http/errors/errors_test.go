package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithDetailDoesNotMutateBase(t *testing.T) {
	e := ErrForbidden.WithDetail("state mismatch")
	require.Equal(t, "state mismatch", e.Detail)
	require.Empty(t, ErrForbidden.Detail)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("wrapped: %w", ErrNotFound.WithDetail("x")))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "NOT_FOUND", body["code"])
	require.Equal(t, "x", body["detail"])
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	cause := stderrors.New("db down")
	e := FromError(cause)
	require.Equal(t, http.StatusInternalServerError, e.HTTPStatus)
	require.ErrorIs(t, e, cause)
}
