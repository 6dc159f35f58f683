package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-actionbridge/internal/audit"
	"github.com/nerrad567/gray-logic-actionbridge/internal/device"
	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher accepts device jobs. *dispatch.Pool satisfies it.
type Dispatcher interface {
	Submit(job dispatch.Job) error
	Stats() dispatch.Stats
}

// ConnectionState reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionState interface {
	IsConnected() bool
}

// HealthChecker is implemented by optional backends (database, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Dispatcher Dispatcher

	// Optional.
	Commands audit.Repository
	MQTT     ConnectionState
	Checks   map[string]HealthChecker
	Metrics  *metrics.Metrics
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	registry   *device.Registry
	dispatcher Dispatcher
	commands   audit.Repository
	mqtt       ConnectionState
	checks     map[string]HealthChecker
	metrics    *metrics.Metrics
	version    string
	startedAt  time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server. The WebSocket hub exists from here on so it
// can be registered as a dispatcher recorder before Start.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		commands:   deps.Commands,
		mqtt:       deps.MQTT,
		checks:     deps.Checks,
		metrics:    deps.Metrics,
		version:    deps.Version,
		startedAt:  time.Now(),
		hub:        NewHub(deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub. It implements dispatch.Recorder.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start launches the HTTP listener in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub
//
// Returns:
//   - error: Currently always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
