package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := NotFound("namespace %q not found", "census")
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindConflict))

	wrapped := fmt.Errorf("handling request: %w", err)
	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.True(t, errors.Is(wrapped, NotFound("")))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{PermissionDenied("x"), http.StatusForbidden},
		{Conflict("x"), http.StatusConflict},
		{Unprocessable("x"), http.StatusUnprocessableEntity},
		{Internal(errors.New("x"), "x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err))
	}
}

func TestFromStorage(t *testing.T) {
	require.NoError(t, FromStorage(nil, "geography"))

	err := FromStorage(pgx.ErrNoRows, "geography")
	assert.True(t, IsKind(err, KindNotFound))

	unique := &pgconn.PgError{Code: "23505"}
	err = FromStorage(fmt.Errorf("insert: %w", unique), "geography")
	assert.True(t, IsKind(err, KindConflict))

	serial := &pgconn.PgError{Code: "40001"}
	err = FromStorage(serial, "fork")
	assert.True(t, IsKind(err, KindConflict))

	err = FromStorage(errors.New("connection reset"), "geography")
	assert.True(t, IsKind(err, KindInternal))
}
