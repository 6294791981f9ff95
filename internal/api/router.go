package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/api/handler"
	apimw "github.com/notifyhub/stock-alerts/internal/api/middleware"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/service"
	"github.com/notifyhub/stock-alerts/internal/settings"
)

// Deps are the collaborators the HTTP surface needs. DB and Gatherer are
// optional.
type Deps struct {
	Stock         *service.StockService
	Dispatcher    *service.Dispatcher
	Notifications repository.NotificationRepository
	Settings      *settings.Service
	DB            handler.Pinger
	Gatherer      prometheus.Gatherer
	Logger        *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(chimw.RequestID)
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(d.Logger))

	ph := handler.NewProductHandler(d.Stock, d.Logger)
	nh := handler.NewNotificationHandler(d.Notifications, d.Dispatcher, d.Logger)
	sh := handler.NewSettingsHandler(d.Settings, d.Logger)
	hh := handler.NewHealthHandler(d.DB)

	r.Get("/health", hh.Health)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/products", ph.CreateProduct)
		r.Get("/products", ph.ListProducts)
		r.Get("/products/{id}", ph.GetProduct)
		r.Patch("/products/{id}/safety-stock", ph.UpdateSafetyStock)

		r.Post("/movements", ph.CreateMovement)
		r.Patch("/movements/{id}", ph.UpdateMovement)
		r.Delete("/movements/{id}", ph.DeleteMovement)

		// /test must be registered before /{id}.
		r.Post("/notifications/test", nh.SendTest)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetByID)

		r.Get("/settings", sh.Get)
		r.Put("/settings", sh.Put)
	})

	return r
}
