package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravel-erp/caravel-erp/internal/delivery"
	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/items"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/locations"
	"github.com/caravel-erp/caravel-erp/internal/orders"
	"github.com/caravel-erp/caravel-erp/internal/platform/httpx"
	"github.com/caravel-erp/caravel-erp/internal/procurement"
	"github.com/caravel-erp/caravel-erp/internal/sales"
	"github.com/caravel-erp/caravel-erp/internal/stockcount"
	"github.com/caravel-erp/caravel-erp/internal/transfers"
	"github.com/caravel-erp/caravel-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Pool   *pgxpool.Pool

	LedgerHandler      *ledger.Handler
	TransfersHandler   *transfers.Handler
	StockCountHandler  *stockcount.Handler
	SalesHandler       *sales.Handler
	ProcurementHandler *procurement.Handler
	DeliveryHandler    *delivery.Handler
	OrdersHandler      *orders.Handler
	LocationsHandler   *locations.Handler
	ItemsHandler       *items.Handler
	JobsHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with Caravel defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Unhealthy", "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		if params.LedgerHandler != nil {
			api.Route("/stock", params.LedgerHandler.MountRoutes)
		}
		if params.TransfersHandler != nil {
			api.Route("/transfers", params.TransfersHandler.MountRoutes)
		}
		if params.StockCountHandler != nil {
			api.Route("/inventories", params.StockCountHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			api.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			api.Route("/purchase-orders", params.ProcurementHandler.MountRoutes)
		}
		if params.DeliveryHandler != nil {
			api.Route("/deliveries", params.DeliveryHandler.MountRoutes)
		}
		if params.OrdersHandler != nil {
			api.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.LocationsHandler != nil {
			api.Route("/locations", params.LocationsHandler.MountRoutes)
		}
		if params.ItemsHandler != nil {
			api.Route("/items", params.ItemsHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			api.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
