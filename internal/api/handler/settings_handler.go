package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/settings"
)

// SettingsHandler reads and replaces the notification settings. The bot
// token is never returned in clear text.
type SettingsHandler struct {
	svc    *settings.Service
	logger *zap.Logger
}

func NewSettingsHandler(svc *settings.Service, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{svc: svc, logger: logger}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Current().Redacted())
}

// Put handles PUT /api/v1/settings
//
// @Summary  Replace the notification settings
// @Tags     settings
// @Accept   json
// @Produce  json
// @Param    body  body      domain.Settings  true  "Settings; a redacted bot_token keeps the stored one"
// @Success  200   {object}  domain.Settings
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/settings [put]
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req domain.Settings
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.svc.Update(r.Context(), req)
	if err != nil {
		h.logger.Warn("update settings failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Redacted())
}
