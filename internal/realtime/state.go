package realtime

import (
	"sync"
	"time"

	"github.com/ashureev/realtime-engine/internal/authsession"
)

// ConnectionState is the mutable state owned exclusively by one
// ConnectionWorker's Run goroutine. Nothing outside that goroutine may
// read or write these fields directly; callers observe a connection only
// through the registry's Metadata snapshots.
type ConnectionState struct {
	ConnectionID  string
	RemoteAddress string

	Session       *authsession.Session
	Authenticated bool

	StoreSubscriptions map[string]func()
	RulesSubscriptions map[string]func()

	LastPingSentAt     time.Time
	LastPongReceivedAt time.Time
	PingOutstanding    bool
}

func newConnectionState(connectionID, remoteAddress string) *ConnectionState {
	return &ConnectionState{
		ConnectionID:       connectionID,
		RemoteAddress:      remoteAddress,
		StoreSubscriptions: make(map[string]func()),
		RulesSubscriptions: make(map[string]func()),
	}
}

// idBox hands a subscription its own id to a push callback that may start
// firing before Subscribe has returned the id to its caller.
type idBox struct {
	mu sync.Mutex
	id string
}

func (b *idBox) set(id string) {
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
}

func (b *idBox) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}
