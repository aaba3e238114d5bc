package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/allocation/internal/domain"
	"github.com/utafrali/allocation/pkg/httputil"
	"github.com/utafrali/allocation/pkg/pagination"
	"github.com/utafrali/allocation/pkg/validator"
)

// dateLayout is the wire format of batch ETAs.
const dateLayout = time.DateOnly

// AllocationService defines what the HTTP handlers need from the service layer.
type AllocationService interface {
	AddBatch(ctx context.Context, reference, sku string, qty int, eta *time.Time) (*domain.Batch, error)
	GetBatch(ctx context.Context, reference string) (*domain.Batch, error)
	ListBatches(ctx context.Context, sku string, page, perPage int) (pagination.Result[*domain.Batch], error)
	Allocate(ctx context.Context, line domain.OrderLine) (string, error)
	Deallocate(ctx context.Context, line domain.OrderLine) (string, error)
}

// BatchHandler handles HTTP requests for batch endpoints.
type BatchHandler struct {
	service AllocationService
	logger  *slog.Logger
}

// NewBatchHandler creates a new batch HTTP handler.
func NewBatchHandler(svc AllocationService, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddBatchRequest is the JSON request body for registering a batch.
type AddBatchRequest struct {
	Reference         string `json:"reference" validate:"required,max=64"`
	SKU               string `json:"sku" validate:"required,sku,max=64"`
	PurchasedQuantity int    `json:"purchased_quantity" validate:"gte=0"`
	ETA               string `json:"eta" validate:"omitempty,datetime=2006-01-02"`
}

// --- Response DTOs ---

// BatchView is the JSON representation of a batch.
type BatchView struct {
	Reference         string             `json:"reference"`
	SKU               string             `json:"sku"`
	PurchasedQuantity int                `json:"purchased_quantity"`
	AllocatedQuantity int                `json:"allocated_quantity"`
	AvailableQuantity int                `json:"available_quantity"`
	ETA               *string            `json:"eta"`
	Allocations       []domain.OrderLine `json:"allocations"`
}

func newBatchView(b *domain.Batch) BatchView {
	v := BatchView{
		Reference:         b.Reference(),
		SKU:               b.SKU(),
		PurchasedQuantity: b.PurchasedQuantity(),
		AllocatedQuantity: b.AllocatedQuantity(),
		AvailableQuantity: b.AvailableQuantity(),
		Allocations:       b.Allocations(),
	}
	if eta := b.ETA(); eta != nil {
		s := eta.Format(dateLayout)
		v.ETA = &s
	}
	return v
}

// --- Handlers ---

// AddBatch handles POST /api/v1/batches
func (h *BatchHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes)

	var req AddBatchRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	var eta *time.Time
	if req.ETA != "" {
		// Format already checked by the datetime tag.
		t, _ := time.Parse(dateLayout, req.ETA)
		eta = &t
	}

	batch, err := h.service.AddBatch(r.Context(), req.Reference, req.SKU, req.PurchasedQuantity, eta)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: newBatchView(batch)})
}

// GetBatch handles GET /api/v1/batches/{reference}
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.GetBatch(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newBatchView(batch)})
}

// ListBatches handles GET /api/v1/batches?sku=&page=&per_page=
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	sku := r.URL.Query().Get("sku")
	if sku != "" && !validator.IsSKU(sku) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "sku must contain only upper-case letters, digits and dashes"},
		})
		return
	}
	params := pagination.FromRequest(r)

	result, err := h.service.ListBatches(r.Context(), sku, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	views := make([]BatchView, len(result.Data))
	for i, b := range result.Data {
		views[i] = newBatchView(b)
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: pagination.Result[BatchView]{
		Data:       views,
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		HasNext:    result.HasNext,
		HasPrev:    result.HasPrev,
	}})
}
