package httpreactor

import (
	"database/sql"
	"time"

	"github.com/ehrlich-b/httpreactor/internal/interfaces"
	"github.com/ehrlich-b/httpreactor/internal/reactor"
)

// TriggerMode re-exports reactor.TriggerMode so callers configuring a
// Server never need to import the internal package directly.
type TriggerMode = reactor.TriggerMode

const (
	LevelTriggered      = reactor.LevelTriggered
	ConnEdgeTriggered   = reactor.ConnEdgeTriggered
	ListenEdgeTriggered = reactor.ListenEdgeTriggered
	BothEdgeTriggered   = reactor.BothEdgeTriggered
)

// Config configures a Server. DB is optional: a nil DB disables the
// register/login side effect entirely, serving static files only.
type Config struct {
	// Port must fall in [1024, 65535].
	Port int

	// Trigger selects which of the listen and connection fds are
	// registered edge-triggered.
	Trigger TriggerMode

	// IdleTimeout closes a connection that sits idle this long. Zero
	// disables idle-timeout closure.
	IdleTimeout time.Duration

	// Linger, when true, sets SO_LINGER on the listen socket so a close
	// flushes rather than resets in-flight bytes.
	Linger bool

	// RootDir is the directory static file paths resolve under.
	RootDir string

	// Workers sizes the fixed worker-goroutine pool. Defaults to 4.
	Workers int

	// MaxEvents bounds one multiplexer wait's event batch. Defaults to
	// constants.DefaultPollerMaxEvents.
	MaxEvents int

	// DB backs the register/login form endpoints. Nil disables auth.
	DB *sql.DB

	// DBPoolSize bounds concurrently leased DB connections. Defaults to 1.
	DBPoolSize int
}

// Options carries the cross-cutting collaborators a Server is wired with:
// a logger and a metrics observer. Any left nil fall back to sensible
// defaults in New.
type Options struct {
	Logger   interfaces.Logger
	Observer interfaces.Observer
}
