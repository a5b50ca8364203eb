// v0
// internal/source/factory.go
package source

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redmozaic77-design/DashboardSCTK/internal/config"
	"github.com/redmozaic77-design/DashboardSCTK/internal/fetch"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// Deps carries shared collaborators for source construction.
type Deps struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Client is used for polling; it is typically breaker-wrapped.
	Client fetch.Doer
}

// New builds the data source selected by cfg.SourceMode. Push modes are
// supervised and fall back to polling when poll URLs are configured.
func New(cfg config.Config, deps Deps) (DataSource, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fallback DataSource
	if cfg.PollConfigured() {
		fallback = NewPoller(PollerOptions{
			LatestURL: cfg.PollLatestURL,
			QCURL:     cfg.PollQCURL,
			Client:    deps.Client,
			Interval:  cfg.PollInterval,
			Timeout:   cfg.FetchTimeout,
			Logger:    logger.With(slog.String("component", "poller")),
			Metrics:   deps.Metrics,
		})
	}

	var walker *Walker
	switch cfg.SourceMode {
	case config.ModePoll:
		if fallback == nil {
			return nil, fmt.Errorf("poll mode needs a poll url")
		}
		return fallback, nil
	case config.ModeMQTT:
		walker = NewWalker(WalkerOptions{
			Name:       "mqtt",
			Dialer:     MQTTDialer{Topic: cfg.MQTTTopic, ClientID: cfg.MQTTClientID},
			Candidates: cfg.MQTTBrokers,
			Timeout:    cfg.ConnectTimeout,
			Decode:     QuantityDecoder(rejectCounter(deps.Metrics)),
			Logger:     logger.With(slog.String("component", "mqtt")),
			Metrics:    deps.Metrics,
		})
	case config.ModeSSE:
		walker = NewWalker(WalkerOptions{
			Name:       "sse",
			Dialer:     SSEDialer{Client: &http.Client{}},
			Candidates: cfg.SSEURLs,
			Timeout:    cfg.ConnectTimeout,
			Decode:     EnvelopeDecoder(rejectCounter(deps.Metrics)),
			Logger:     logger.With(slog.String("component", "sse")),
			Metrics:    deps.Metrics,
		})
	default:
		return nil, fmt.Errorf("unknown source mode %q", cfg.SourceMode)
	}

	return NewSupervisor(SupervisorOptions{
		Push:        walker,
		Fallback:    fallback,
		Backoff:     cfg.RestartBackoff,
		MaxRestarts: cfg.MaxRestarts,
		Logger:      logger.With(slog.String("component", "supervisor")),
	}), nil
}
