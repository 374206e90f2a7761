// Package interfaces holds the small seams injected into the reactor's
// components so they can be wired, mocked, and tested independently.
package interfaces

import "context"

// Logger is the minimal logging surface used by internal components.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Observer receives point-in-time events for metrics collection.
type Observer interface {
	ObserveAccept()
	ObserveClose()
	ObserveRequest(statusCode int, malformed bool)
	ObserveTimerExpiry()
	ObserveQueueDepth(depth int)
}

// DBConn is a single leased database connection used by the auth flow.
type DBConn interface {
	QueryUser(ctx context.Context, username string) (password string, found bool, err error)
	InsertUser(ctx context.Context, username, password string) error
}

// DBPool models the external connection pool's lease/release contract.
// Acquisition blocks until a connection is available; Release always
// returns the connection regardless of how it was used.
type DBPool interface {
	Lease(ctx context.Context) (DBConn, error)
	Release(DBConn)
}

// Authenticator resolves the register/login form submission against the
// database contract and reports whether the attempt succeeded.
type Authenticator interface {
	Verify(ctx context.Context, username, password string, isLogin bool) (bool, error)
}
