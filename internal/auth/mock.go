package auth

import (
	"context"
	"sync"

	"github.com/ehrlich-b/httpreactor/internal/interfaces"
)

// MockPool is an in-memory interfaces.DBPool for tests.
type MockPool struct {
	mu       sync.Mutex
	users    map[string]string
	leases   int
	LeaseErr error
}

// NewMockPool returns an empty in-memory user table.
func NewMockPool() *MockPool {
	return &MockPool{users: make(map[string]string)}
}

func (m *MockPool) Lease(ctx context.Context) (interfaces.DBConn, error) {
	if m.LeaseErr != nil {
		return nil, m.LeaseErr
	}
	m.mu.Lock()
	m.leases++
	m.mu.Unlock()
	return &mockConn{pool: m}, nil
}

func (m *MockPool) Release(interfaces.DBConn) {
	m.mu.Lock()
	m.leases--
	m.mu.Unlock()
}

// LeaseCount reports the number of currently leased (not yet released)
// connections, for exclusivity assertions in tests.
func (m *MockPool) LeaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leases
}

// Seed pre-populates a username/password pair.
func (m *MockPool) Seed(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = password
}

type mockConn struct {
	pool *MockPool
}

func (c *mockConn) QueryUser(ctx context.Context, username string) (string, bool, error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	pw, ok := c.pool.users[username]
	return pw, ok, nil
}

func (c *mockConn) InsertUser(ctx context.Context, username, password string) error {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.users[username] = password
	return nil
}

var _ interfaces.DBPool = (*MockPool)(nil)
