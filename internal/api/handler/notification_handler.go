package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/stock-alerts/internal/api/middleware"
	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/service"
)

// NotificationHandler exposes the notification log and manual test sends.
type NotificationHandler struct {
	repo       repository.NotificationRepository
	dispatcher *service.Dispatcher
	logger     *zap.Logger
}

func NewNotificationHandler(
	repo repository.NotificationRepository,
	dispatcher *service.Dispatcher,
	logger *zap.Logger,
) *NotificationHandler {
	return &NotificationHandler{repo: repo, dispatcher: dispatcher, logger: logger}
}

// GetByID handles GET /api/v1/notifications/{id}
//
// @Summary  Get a notification by ID
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification UUID"
// @Success  200  {object}  domain.Notification
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// List handles GET /api/v1/notifications
//
// @Summary  List notifications, newest first
// @Tags     notifications
// @Produce  json
// @Param    state       query     string  false  "pending, sent or aborted"
// @Param    product_id  query     string  false  "Filter by product"
// @Param    page        query     int     false  "Page number (default 1)"
// @Param    limit       query     int     false  "Items per page (default 20, max 100)"
// @Success  200         {object}  map[string]any
// @Failure  422         {object}  map[string]string
// @Router   /api/v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseListFilter(r)
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "state must be pending, sent, or aborted")
		return
	}
	notifications, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list notifications failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	respondPage(w, notifications, total, filter.Page, filter.Limit)
}

// SendTest handles POST /api/v1/notifications/test
//
// @Summary  Send a manual notification through the policy
// @Tags     notifications
// @Accept   json
// @Produce  json
// @Param    body  body      domain.TestNotificationRequest  true  "Message and level"
// @Success  201   {object}  service.DispatchResult
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/notifications/test [post]
func (h *NotificationHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req domain.TestNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), service.Trigger{
		Channel: domain.ChannelTelegram,
		Level:   req.Level,
		Message: req.Message,
	})
	if err != nil {
		h.logger.Warn("test notification failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func parseListFilter(r *http.Request) (domain.NotificationFilter, bool) {
	q := r.URL.Query()
	filter := domain.NotificationFilter{}
	filter.Page, filter.Limit = pagination(r)

	if s := q.Get("state"); s != "" {
		st := domain.State(s)
		switch st {
		case domain.StatePending, domain.StateSent, domain.StateAborted:
			filter.State = &st
		default:
			return filter, false
		}
	}
	if pid := q.Get("product_id"); pid != "" {
		filter.ProductID = &pid
	}
	return filter, true
}
