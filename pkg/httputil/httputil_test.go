package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/allocation/pkg/errors"
	"github.com/utafrali/allocation/pkg/logger"
	"github.com/utafrali/allocation/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// ============================================================================
// WriteJSON
// ============================================================================

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, Response{Data: map[string]string{"batch_reference": "batch-001"}})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"batch_reference":"batch-001"}}`, rec.Body.String())
}

func TestResponse_OmitsEmptyHalves(t *testing.T) {
	raw, err := json.Marshal(Response{Data: "x"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "error")

	raw, err = json.Marshal(Response{Error: &ErrorResponse{Code: "C", Message: "m"}})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "data")
	assert.NotContains(t, string(raw), "request_id")
}

// ============================================================================
// WriteError
// ============================================================================

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"app not found", apperrors.NotFound("batch", "batch-001"), http.StatusNotFound, "NOT_FOUND", "batch batch-001 not found"},
		{"app out of stock", apperrors.OutOfStock("SMALL-FORK"), http.StatusUnprocessableEntity, "OUT_OF_STOCK", "out of stock for sku SMALL-FORK"},
		{"wrapped app error", fmt.Errorf("allocate: %w", apperrors.InvalidInput("qty must be positive")), http.StatusBadRequest, "INVALID_INPUT", "qty must be positive"},
		{"sentinel not found", apperrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
		{"sentinel exists", apperrors.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "resource already exists"},
		{"sentinel conflict", apperrors.ErrConflict, http.StatusConflict, "CONFLICT", "request conflicts with current state"},
		{"sentinel out of stock", apperrors.ErrOutOfStock, http.StatusUnprocessableEntity, "OUT_OF_STOCK", "out of stock"},
		{"internal app error hides cause", apperrors.Internal(errors.New("pq: password leak")), http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/allocations", nil), tt.err, testLogger())

			assert.Equal(t, tt.wantStatus, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantMessage, e.Message)
		})
	}
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	ctx := logger.WithCorrelationID(context.Background(), "corr-123")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/x", nil).WithContext(ctx)

	for _, err := range []error{apperrors.ErrNotFound, apperrors.NotFound("batch", "x")} {
		rec := httptest.NewRecorder()
		WriteError(rec, req, err, testLogger())
		assert.Equal(t, "corr-123", decodeError(t, rec).RequestID)
	}
}

func TestWriteError_LogsInternalErrorsWithRequestLogger(t *testing.T) {
	var requestLog, fallbackLog bytes.Buffer
	reqLogger := slog.New(slog.NewJSONHandler(&requestLog, nil))
	fallback := slog.New(slog.NewJSONHandler(&fallbackLog, nil))

	ctx := logger.NewContext(context.Background(), reqLogger)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/allocations", nil).WithContext(ctx)

	WriteError(httptest.NewRecorder(), req, errors.New("db exploded"), fallback)

	assert.Contains(t, requestLog.String(), "db exploded")
	assert.Empty(t, fallbackLog.String())
}

func TestWriteError_LogsWithFallbackWhenNoRequestLogger(t *testing.T) {
	var fallbackLog bytes.Buffer
	fallback := slog.New(slog.NewJSONHandler(&fallbackLog, nil))

	WriteError(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("db exploded"), fallback)
	assert.Contains(t, fallbackLog.String(), "internal error")
}

func TestWriteError_ClientErrorsAreNotLogged(t *testing.T) {
	var fallbackLog bytes.Buffer
	fallback := slog.New(slog.NewJSONHandler(&fallbackLog, nil))

	WriteError(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil), apperrors.OutOfStock("LAMP"), fallback)
	assert.Empty(t, fallbackLog.String())
}

// ============================================================================
// WriteValidationError
// ============================================================================

func TestWriteValidationError_FieldErrors(t *testing.T) {
	type req struct {
		SKU string `json:"sku" validate:"required,sku"`
	}
	verr := validator.Validate(req{SKU: "lower"})
	require.Error(t, verr)

	rec := httptest.NewRecorder()
	WriteValidationError(rec, httptest.NewRequest(http.MethodPost, "/", nil), verr)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Contains(t, e.Fields, "sku")
}

func TestWriteValidationError_DecodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, httptest.NewRequest(http.MethodPost, "/", nil), errors.New("decode request body: unexpected EOF"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "INVALID_INPUT", e.Code)
	assert.Contains(t, e.Message, "unexpected EOF")
}

func TestWriteValidationError_BodyTooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	body := http.MaxBytesReader(rec, io.NopCloser(strings.NewReader(strings.Repeat("x", 64))), 8)
	_, err := io.ReadAll(body)
	require.Error(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	WriteValidationError(rec, req, fmt.Errorf("decode request body: %w", err))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rec).Code)
}
