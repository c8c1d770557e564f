package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorhub/internal/common/apperr"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response[any] {
	t.Helper()
	var out Response[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWriteErrorWithDetails(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteErrorWithDetails(rec, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "service unhealthy",
		map[string]string{"component": "database"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	out := decode(t, rec)
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", out.Error.Code)
	assert.Equal(t, "database", out.Error.Details["component"])
}

func TestWriteAppErrorHidesServerErrors(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "business",
			err:        fmt.Errorf("payment pay_1: %w", apperr.ErrVerificationFailed),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VERIFICATION_FAILED",
			wantMsg:    "payment pay_1: " + apperr.ErrVerificationFailed.Error(),
		},
		{
			name:       "storage",
			err:        apperr.Storage("inserting payment", errors.New("password authentication failed")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperr.Kind(apperr.ErrStorage),
			wantMsg:    "internal error",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			WriteAppError(rec, logger, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			out := decode(t, rec)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.wantCode, out.Error.Code)
			assert.Equal(t, tt.wantMsg, out.Error.Message)
		})
	}
}
