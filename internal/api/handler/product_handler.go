package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/stock-alerts/internal/api/middleware"
	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/service"
)

// ProductHandler handles product and stock movement endpoints.
type ProductHandler struct {
	svc    *service.StockService
	logger *zap.Logger
}

func NewProductHandler(svc *service.StockService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{svc: svc, logger: logger}
}

// CreateProduct handles POST /api/v1/products
//
// @Summary  Create a product with zero stock
// @Tags     products
// @Accept   json
// @Produce  json
// @Param    body  body      domain.CreateProductRequest  true  "Product payload"
// @Success  201   {object}  domain.Product
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/products [post]
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreateProduct(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create product failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// GetProduct handles GET /api/v1/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ListProducts handles GET /api/v1/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	products, total, err := h.svc.ListProducts(r.Context(), page, limit)
	if err != nil {
		h.fail(w, r, "list products failed", err)
		return
	}
	respondPage(w, products, total, page, limit)
}

type safetyStockRequest struct {
	SafetyStock *int `json:"safety_stock"`
}

// UpdateSafetyStock handles PATCH /api/v1/products/{id}/safety-stock
//
// @Summary  Change the safety stock threshold
// @Tags     products
// @Accept   json
// @Produce  json
// @Param    id    path      string              true  "Product UUID"
// @Param    body  body      safetyStockRequest  true  "New threshold"
// @Success  200   {object}  domain.Product
// @Failure  404   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/products/{id}/safety-stock [patch]
func (h *ProductHandler) UpdateSafetyStock(w http.ResponseWriter, r *http.Request) {
	var req safetyStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SafetyStock == nil {
		respondError(w, http.StatusUnprocessableEntity, "safety_stock is required")
		return
	}
	p, err := h.svc.UpdateSafetyStock(r.Context(), chi.URLParam(r, "id"), *req.SafetyStock)
	if err != nil {
		h.fail(w, r, "update safety stock failed", err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type movementResponse struct {
	Movement *domain.Movement `json:"movement,omitempty"`
	Product  *domain.Product  `json:"product"`
}

// CreateMovement handles POST /api/v1/movements
//
// @Summary  Record an inbound, outbound or return movement
// @Tags     movements
// @Accept   json
// @Produce  json
// @Param    body  body      domain.CreateMovementRequest  true  "Movement payload"
// @Success  201   {object}  movementResponse
// @Failure  404   {object}  map[string]string
// @Failure  409   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/movements [post]
func (h *ProductHandler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, p, err := h.svc.CreateMovement(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create movement failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, movementResponse{Movement: m, Product: p})
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateMovement handles PATCH /api/v1/movements/{id}
func (h *ProductHandler) UpdateMovement(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, p, err := h.svc.UpdateMovementQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.fail(w, r, "update movement failed", err)
		return
	}
	respondJSON(w, http.StatusOK, movementResponse{Movement: m, Product: p})
}

// DeleteMovement handles DELETE /api/v1/movements/{id}
func (h *ProductHandler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.DeleteMovement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "delete movement failed", err)
		return
	}
	respondJSON(w, http.StatusOK, movementResponse{Product: p})
}

func (h *ProductHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Warn(msg,
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.Error(err),
	)
	mapError(w, err)
}
