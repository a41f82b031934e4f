package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/onthisday/backend/internal/store"
)

// ErrSessionLive is returned by Registry.Exclusive while a live controller
// owns the session.
var ErrSessionLive = errors.New("session is in use by a live connection")

// Registry 按会话ID共享控制器，同一会话的所有连接驱动同一个控制器。
type Registry struct {
	store     store.Store
	transport Transport
	opts      Options

	mu       sync.Mutex
	sessions map[string]*registered
}

type registered struct {
	ctrl   *Controller
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// Lease is one holder's reference to a shared controller.
type Lease struct {
	Controller *Controller

	ctx     context.Context
	release func()
	once    sync.Once
}

// Context lives as long as the controller and is the one to send with, so a
// request outlives the connection that submitted it while others still watch.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Release drops the reference. The last release closes the controller.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// NewRegistry 创建控制器注册表
func NewRegistry(st store.Store, transport Transport, opts Options) *Registry {
	return &Registry{
		store:     st,
		transport: transport,
		opts:      opts,
		sessions:  make(map[string]*registered),
	}
}

// Acquire returns a lease on the controller for id, loading the session from
// the store when no one holds it yet.
func (r *Registry) Acquire(ctx context.Context, id string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		session, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		entryCtx, cancel := context.WithCancel(context.Background())
		entry = &registered{
			ctrl:   NewController(session, r.transport, r.store, r.opts),
			ctx:    entryCtx,
			cancel: cancel,
		}
		r.sessions[id] = entry
	}
	entry.refs++

	return &Lease{
		Controller: entry.ctrl,
		ctx:        entry.ctx,
		release:    func() { r.release(id, entry) },
	}, nil
}

// release closes the controller under the registry lock so that a following
// Acquire reads the session only after its final commit has been persisted.
func (r *Registry) release(id string, entry *registered) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.refs--
	if entry.refs > 0 {
		return
	}
	if r.sessions[id] == entry {
		delete(r.sessions, id)
	}
	entry.cancel()
	entry.ctrl.Close()
}

// Live reports whether a controller currently owns id.
func (r *Registry) Live(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Exclusive runs fn while no controller owns id and none can be acquired for
// it. It fails with ErrSessionLive when the session is held.
func (r *Registry) Exclusive(id string, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return ErrSessionLive
	}
	return fn()
}
