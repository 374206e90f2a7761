package httpreactor

import (
	"context"
	"errors"

	"github.com/ehrlich-b/httpreactor/internal/auth"
	"github.com/ehrlich-b/httpreactor/internal/interfaces"
	"github.com/ehrlich-b/httpreactor/internal/logging"
	"github.com/ehrlich-b/httpreactor/internal/reactor"
)

// Server is the public handle to a running reactor: construction wires the
// reactor, the metrics observer, and (when configured) the database-backed
// authenticator together; Run drives the event loop until its context is
// cancelled or Close is called.
type Server struct {
	r       *reactor.Reactor
	metrics *Metrics
	logger  interfaces.Logger
}

// New validates cfg, wires an Authenticator against cfg.DB when one is
// given, and returns a Server ready for Run. It does not start serving
// until Run is called.
func New(cfg Config, options *Options) (*Server, error) {
	if options == nil {
		options = &Options{}
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	var observer interfaces.Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	var authenticator interfaces.Authenticator
	if cfg.DB != nil {
		authenticator = auth.NewVerifier(auth.NewSQLPool(cfg.DB, cfg.DBPoolSize))
	}

	rcfg := reactor.Config{
		Port:        cfg.Port,
		Trigger:     cfg.Trigger,
		IdleTimeout: cfg.IdleTimeout,
		Linger:      cfg.Linger,
		RootDir:     cfg.RootDir,
		Workers:     cfg.Workers,
		MaxEvents:   cfg.MaxEvents,
		Logger:      logger,
		Observer:    observer,
		Auth:        authenticator,
	}

	r, err := reactor.New(rcfg)
	if err != nil {
		return nil, WrapError("new", -1, err)
	}

	return &Server{r: r, metrics: metrics, logger: logger}, nil
}

// Run blocks, serving requests until ctx is cancelled or Close is called.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Infof("reactor listening")
	err := s.r.Run(ctx)
	s.metrics.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return WrapError("run", -1, err)
	}
	return nil
}

// Close requests the server stop at its next event-loop iteration.
func (s *Server) Close() {
	s.r.Close()
}

// ActiveConnections reports the live connection count.
func (s *Server) ActiveConnections() int64 {
	return s.r.ActiveConnections()
}

// Metrics returns the server's metrics instance.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of server metrics.
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}
