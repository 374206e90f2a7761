// Package auth implements the register/login side effect the HTTP parser
// triggers for the two form endpoints, against the database pool contract
// named by the external interfaces.
package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"

	"github.com/ehrlich-b/httpreactor/internal/interfaces"
)

// Verifier implements interfaces.Authenticator against an interfaces.DBPool.
type Verifier struct {
	Pool interfaces.DBPool
}

// NewVerifier wires a Verifier to the given pool.
func NewVerifier(pool interfaces.DBPool) *Verifier {
	return &Verifier{Pool: pool}
}

var _ interfaces.Authenticator = (*Verifier)(nil)

// Verify resolves one register or login attempt. Login succeeds when the
// stored password matches; registration succeeds when the username is not
// already taken, in which case the row is inserted.
func (v *Verifier) Verify(ctx context.Context, username, password string, isLogin bool) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}

	conn, err := v.Pool.Lease(ctx)
	if err != nil {
		return false, fmt.Errorf("auth: lease connection: %w", err)
	}
	defer v.Pool.Release(conn)

	stored, found, err := conn.QueryUser(ctx, username)
	if err != nil {
		return false, fmt.Errorf("auth: query user: %w", err)
	}

	if isLogin {
		if !found {
			return false, nil
		}
		return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1, nil
	}

	if found {
		return false, nil
	}
	if err := conn.InsertUser(ctx, username, password); err != nil {
		return false, fmt.Errorf("auth: insert user: %w", err)
	}
	return true, nil
}

// SQLConn adapts a leased *sql.Conn to interfaces.DBConn with parameterised
// statements.
type SQLConn struct {
	conn *sql.Conn
}

func (c *SQLConn) QueryUser(ctx context.Context, username string) (string, bool, error) {
	row := c.conn.QueryRowContext(ctx,
		"select password from user where username = ? limit 1", username)
	var password string
	if err := row.Scan(&password); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return password, true, nil
}

func (c *SQLConn) InsertUser(ctx context.Context, username, password string) error {
	_, err := c.conn.ExecContext(ctx,
		"insert into user(username, password) values(?, ?)", username, password)
	return err
}

// SQLPool leases connections from a stdlib *sql.DB, bounding concurrent
// leases with a counting semaphore.
type SQLPool struct {
	db  *sql.DB
	sem chan struct{}
}

// NewSQLPool wraps db, allowing at most capacity concurrently leased
// connections.
func NewSQLPool(db *sql.DB, capacity int) *SQLPool {
	if capacity <= 0 {
		capacity = 1
	}
	return &SQLPool{db: db, sem: make(chan struct{}, capacity)}
}

func (p *SQLPool) Lease(ctx context.Context) (interfaces.DBConn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}
	return &SQLConn{conn: conn}, nil
}

func (p *SQLPool) Release(c interfaces.DBConn) {
	if sc, ok := c.(*SQLConn); ok && sc.conn != nil {
		_ = sc.conn.Close()
	}
	<-p.sem
}

var _ interfaces.DBPool = (*SQLPool)(nil)

// Lease is a scoped acquire/release helper: construct it to acquire,
// defer Close to release exactly once.
type Lease struct {
	pool interfaces.DBPool
	conn interfaces.DBConn
}

// Acquire leases a connection from pool.
func Acquire(ctx context.Context, pool interfaces.DBPool) (*Lease, error) {
	conn, err := pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{pool: pool, conn: conn}, nil
}

// Conn returns the leased connection.
func (l *Lease) Conn() interfaces.DBConn { return l.conn }

// Close releases the leased connection; calls after the first do nothing.
func (l *Lease) Close() {
	if l.conn == nil {
		return
	}
	l.pool.Release(l.conn)
	l.conn = nil
}
