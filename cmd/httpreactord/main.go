// Command httpreactord runs the reactor-based static file and auth HTTP
// server described by the httpreactor package.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ehrlich-b/httpreactor"
	"github.com/ehrlich-b/httpreactor/internal/logging"
)

func main() {
	var (
		port        = flag.Int("port", 9190, "listen port (1024-65535)")
		trigger     = flag.Int("trigger", 0, "trigger mode: 0=level, 1=conn-edge, 2=listen-edge, 3=both-edge")
		idleTimeout = flag.Duration("idle-timeout", 2*time.Minute, "close a connection idle this long (0 disables)")
		linger      = flag.Bool("linger", false, "set SO_LINGER on the listen socket")
		rootDir     = flag.String("root", "./resources", "directory static file paths resolve under")
		workers     = flag.Int("workers", 4, "worker goroutine pool size")
		maxEvents   = flag.Int("max-events", 1024, "max events returned per multiplexer wait")

		dbDriver   = flag.String("db-driver", "", "database/sql driver name (e.g. mysql); empty disables register/login")
		dbDSN      = flag.String("db-dsn", "", "database/sql data source name")
		dbPoolSize = flag.Int("db-pool-size", 4, "max concurrently leased DB connections")

		noLog    = flag.Bool("no-log", false, "disable logging output entirely")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logDir   = flag.String("log-dir", "", "write rotating log files under this directory instead of stderr")
		logQueue = flag.Int("log-queue", 1024, "async log queue capacity; 0 writes synchronously")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(*logLevel)

	var logSink io.Closer
	switch {
	case *noLog:
		logConfig.Output = io.Discard
	case *logDir != "":
		rw, err := logging.NewRotatingWriter(*logDir, ".log")
		if err != nil {
			log.Fatalf("open log dir: %v", err)
		}
		if *logQueue > 0 {
			aw := logging.NewAsyncWriter(rw, *logQueue)
			logConfig.Output = aw
			logSink = aw // closing the async writer drains it and closes rw
		} else {
			logConfig.Output = rw
			logSink = rw
		}
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := httpreactor.Config{
		Port:        *port,
		Trigger:     httpreactor.TriggerMode(*trigger),
		IdleTimeout: *idleTimeout,
		Linger:      *linger,
		RootDir:     *rootDir,
		Workers:     *workers,
		MaxEvents:   *maxEvents,
		DBPoolSize:  *dbPoolSize,
	}

	if *dbDriver != "" {
		db, err := sql.Open(*dbDriver, *dbDSN)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		cfg.DB = db
		logger.Info("register/login backed by database", "driver", *dbDriver)
	} else {
		logger.Info("no db-driver given, serving static files only")
	}

	srv, err := httpreactor.New(cfg, &httpreactor.Options{Logger: logger.WithScope("listen=:%d", *port)})
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	fmt.Printf("httpreactord listening on :%d, serving %s\n", *port, *rootDir)
	fmt.Printf("Press Ctrl+C to stop...\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		srv.Close()
		select {
		case <-errCh:
			logger.Info("shutdown complete")
		case <-time.After(3 * time.Second):
			logger.Info("shutdown timeout, forcing exit")
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("reactor exited", "error", err)
			exitCode = 1
		}
	}

	if logSink != nil {
		_ = logSink.Close()
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
