package http

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/allocation/internal/domain"
	apperrors "github.com/utafrali/allocation/pkg/errors"
)

var testLine = domain.NewOrderLine("order-001", "SMALL-TABLE", 2)

func lineRequest(l domain.OrderLine) OrderLineRequest {
	return OrderLineRequest{OrderID: l.OrderID, SKU: l.SKU, Qty: l.Qty}
}

// ============================================================================
// Allocate
// ============================================================================

func TestAllocate_Success(t *testing.T) {
	svc := new(mockAllocationService)
	svc.On("Allocate", mock.Anything, testLine).Return("batch-001", nil)

	rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations", lineRequest(testLine))

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeBody[AllocationView](t, rec)
	assert.Equal(t, "batch-001", env.Data.BatchReference)
	svc.AssertExpectations(t)
}

func TestAllocate_OutOfStock(t *testing.T) {
	svc := new(mockAllocationService)
	svc.On("Allocate", mock.Anything, testLine).Return("", apperrors.OutOfStock("SMALL-TABLE"))

	rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations", lineRequest(testLine))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeBody[any](t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "OUT_OF_STOCK", env.Error.Code)
	assert.Contains(t, env.Error.Message, "SMALL-TABLE")
}

func TestAllocate_InternalErrorIsHidden(t *testing.T) {
	svc := new(mockAllocationService)
	svc.On("Allocate", mock.Anything, testLine).Return("", errors.New("connection reset by peer"))

	rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations", lineRequest(testLine))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestAllocate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      OrderLineRequest
		wantField string
	}{
		{"missing order id", OrderLineRequest{SKU: "SMALL-TABLE", Qty: 1}, "order_id"},
		{"missing sku", OrderLineRequest{OrderID: "o1", Qty: 1}, "sku"},
		{"zero qty", OrderLineRequest{OrderID: "o1", SKU: "SMALL-TABLE"}, "qty"},
		{"negative qty", OrderLineRequest{OrderID: "o1", SKU: "SMALL-TABLE", Qty: -2}, "qty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockAllocationService)
			rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			env := decodeBody[any](t, rec)
			require.NotNil(t, env.Error)
			assert.Contains(t, env.Error.Fields, tt.wantField)
			svc.AssertNotCalled(t, "Allocate", mock.Anything, mock.Anything)
		})
	}
}

// ============================================================================
// Deallocate
// ============================================================================

func TestDeallocate_Success(t *testing.T) {
	svc := new(mockAllocationService)
	svc.On("Deallocate", mock.Anything, testLine).Return("batch-001", nil)

	rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations/deallocate", lineRequest(testLine))

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeBody[AllocationView](t, rec)
	assert.Equal(t, "batch-001", env.Data.BatchReference)
}

func TestDeallocate_NotFound(t *testing.T) {
	svc := new(mockAllocationService)
	svc.On("Deallocate", mock.Anything, testLine).Return("", apperrors.NotFound("allocation for order", "order-001"))

	rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations/deallocate", lineRequest(testLine))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeallocate_InvalidJSON(t *testing.T) {
	svc := new(mockAllocationService)
	rec := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/allocations/deallocate", `[1,2]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Deallocate", mock.Anything, mock.Anything)
}
