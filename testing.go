package httpreactor

import (
	"fmt"
	"net"

	"github.com/ehrlich-b/httpreactor/internal/interfaces"
	"github.com/ehrlich-b/httpreactor/internal/logging"
	"github.com/ehrlich-b/httpreactor/internal/reactor"
)

// NewTestConfig returns a Config bound to a free loopback port, serving
// static files out of rootDir, with idle timeouts and lingering disabled.
// It is meant for tests that need a live, throwaway listen port rather
// than a fixed one.
func NewTestConfig(rootDir string) (Config, error) {
	port, err := freePort()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Port:      port,
		Trigger:   LevelTriggered,
		RootDir:   rootDir,
		Workers:   2,
		MaxEvents: 64,
	}, nil
}

// freePort asks the kernel for an ephemeral port by briefly binding to
// port 0, then releases it for the caller's own listener to reuse.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("httpreactor: find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// NewWithAuthenticator builds a Server exactly like New, except the
// Authenticator is supplied directly instead of being derived from
// cfg.DB. It exists for tests that want to exercise the register/login
// flow against a fake (e.g. internal/auth.MockPool) without a real
// database connection.
func NewWithAuthenticator(cfg Config, options *Options, authenticator interfaces.Authenticator) (*Server, error) {
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
