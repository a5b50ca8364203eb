// v0
// internal/httpapi/router.go
package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/redmozaic77-design/DashboardSCTK/internal/derive"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// Deps are the collaborators served by the router. QC and Schedule may be
// nil when not configured.
type Deps struct {
	Engine    Engine
	QC        QCFeed
	Schedule  Schedule
	Health    *HealthState
	Metrics   *observability.Metrics
	Reservoir derive.Reservoir
	Location  *time.Location
	KeepAlive time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewRouter builds the HTTP handler for the dashboard API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	a := &api{
		engine:    deps.Engine,
		qc:        deps.QC,
		schedule:  deps.Schedule,
		health:    deps.Health,
		reservoir: deps.Reservoir,
		loc:       loc,
		keepAlive: deps.KeepAlive,
		logger:    logger,
		now:       now,
	}

	r := mux.NewRouter()
	r.Use(routeMetrics(deps.Metrics))

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", a.handleReady).Methods(http.MethodGet)

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/latest", a.handleLatest).Methods(http.MethodGet)
	sub.HandleFunc("/catalog", a.handleCatalog).Methods(http.MethodGet)
	sub.HandleFunc("/config", a.handleConfig).Methods(http.MethodGet)
	sub.HandleFunc("/history/{key}", a.handleHistory).Methods(http.MethodGet)
	sub.HandleFunc("/tiles", a.handleTiles).Methods(http.MethodGet)
	sub.HandleFunc("/tiles/{key}", a.handleTile).Methods(http.MethodGet)
	sub.HandleFunc("/derived", a.handleDerived).Methods(http.MethodGet)
	sub.HandleFunc("/big", a.handleBigGet).Methods(http.MethodGet)
	sub.HandleFunc("/big", a.handleBigSelect).Methods(http.MethodPost)
	sub.HandleFunc("/qc/latest", a.handleQCLatest).Methods(http.MethodGet)
	sub.HandleFunc("/qc/history/{param}", a.handleQCHistory).Methods(http.MethodGet)
	sub.HandleFunc("/qc/last/{param}", a.handleQCLast).Methods(http.MethodGet)
	sub.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	sub.HandleFunc("/schedule", a.handleSchedule).Methods(http.MethodGet)

	r.HandleFunc(eventsPath, a.handleEvents).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		notFound(w, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	var h http.Handler = WrapWithLogging(logger, r)
	h = noCache(h)
	h = compressExceptEvents(h)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger: logger}))(h)
}
