package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/allocation/internal/domain"
	"github.com/utafrali/allocation/pkg/httputil"
	"github.com/utafrali/allocation/pkg/validator"
)

// AllocationHandler handles HTTP requests for allocation endpoints.
type AllocationHandler struct {
	service AllocationService
	logger  *slog.Logger
}

// NewAllocationHandler creates a new allocation HTTP handler.
func NewAllocationHandler(svc AllocationService, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{
		service: svc,
		logger:  logger,
	}
}

// OrderLineRequest is the JSON request body for allocating or deallocating a line.
type OrderLineRequest struct {
	OrderID string `json:"order_id" validate:"required,max=64"`
	SKU     string `json:"sku" validate:"required,sku,max=64"`
	Qty     int    `json:"qty" validate:"gte=1"`
}

// AllocationView is the JSON result of an allocation or deallocation.
type AllocationView struct {
	BatchReference string `json:"batch_reference"`
}

func (h *AllocationHandler) decodeLine(w http.ResponseWriter, r *http.Request) (domain.OrderLine, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes)

	var req OrderLineRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return domain.OrderLine{}, false
	}
	return domain.NewOrderLine(req.OrderID, req.SKU, req.Qty), true
}

// Allocate handles POST /api/v1/allocations
func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	line, ok := h.decodeLine(w, r)
	if !ok {
		return
	}

	ref, err := h.service.Allocate(r.Context(), line)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: AllocationView{BatchReference: ref}})
}

// Deallocate handles POST /api/v1/allocations/deallocate
func (h *AllocationHandler) Deallocate(w http.ResponseWriter, r *http.Request) {
	line, ok := h.decodeLine(w, r)
	if !ok {
		return
	}

	ref, err := h.service.Deallocate(r.Context(), line)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: AllocationView{BatchReference: ref}})
}
