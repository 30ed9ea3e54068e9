package otelz

import (
	"sync"

	"go.uber.org/zap"
)

// Storage holds the current Context of one logical execution strand.
//
// Go has no goroutine-local storage, so a strand owns its Storage explicitly
// and hands a Fork to any goroutine it starts. Scopes attached to one Storage
// are never visible from another.
type Storage struct {
	logger *zap.Logger
	head   *Scope
	base   Context
	mu     sync.Mutex
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithStorageLogger sets the logger that receives scope discipline warnings.
func WithStorageLogger(logger *zap.Logger) StorageOption {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorage creates an empty storage whose current context is the root.
func NewStorage(opts ...StorageOption) *Storage {
	s := &Storage{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultStorage     *Storage
	defaultStorageOnce sync.Once
)

// DefaultStorage returns the process-wide storage used when no other
// storage has been configured.
func DefaultStorage() *Storage {
	defaultStorageOnce.Do(func() {
		defaultStorage = NewStorage()
	})
	return defaultStorage
}

// Current returns the active context, or the root context when nothing
// is attached.
func (s *Storage) Current() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Storage) currentLocked() Context {
	if s.head != nil {
		return s.head.ctx
	}
	return s.base
}

// Depth returns the number of scopes currently attached.
func (s *Storage) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return 0
	}
	return s.head.depth
}

// Attach makes c the current context and returns the scope that restores
// the previous one.
func (s *Storage) Attach(c Context) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := 1
	if s.head != nil {
		depth = s.head.depth + 1
	}
	scope := &Scope{
		storage:  s,
		prev:     s.head,
		ctx:      c,
		previous: s.currentLocked(),
		depth:    depth,
	}
	s.head = scope
	return scope
}

// Fork returns a new storage whose current context is this storage's
// current context at the time of the call. Later attaches on either side
// are not observed by the other.
func (s *Storage) Fork() *Storage {
	return &Storage{
		logger: s.logger,
		base:   s.Current(),
	}
}

// Scope is the capability returned by Attach. Detach it exactly once, in
// the reverse order of attachment.
type Scope struct {
	storage  *Storage
	prev     *Scope
	ctx      Context
	previous Context
	depth    int
	detached bool
}

// Context returns the context this scope attached.
func (sc *Scope) Context() Context {
	return sc.ctx
}

// Detach restores the context that was current when the scope was
// attached.
//
// Detaching twice returns ErrScopeDetached and changes nothing. Detaching
// while newer scopes are still attached returns ErrScopeMismatch; those
// newer scopes are discarded so the storage ends up exactly where it was
// before this scope was attached.
func (sc *Scope) Detach() error {
	if sc == nil {
		return nil
	}
	s := sc.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.detached {
		s.logger.Warn("scope detached more than once",
			zap.Int("depth", sc.depth),
		)
		return ErrScopeDetached
	}

	if s.head == sc {
		sc.detached = true
		s.head = sc.prev
		return nil
	}

	// Out of order. Unwind everything attached after sc.
	abandoned := 0
	for n := s.head; n != nil && n != sc; n = n.prev {
		n.detached = true
		abandoned++
	}
	sc.detached = true
	s.head = sc.prev
	s.logger.Warn("scope detached out of order",
		zap.Int("depth", sc.depth),
		zap.Int("abandoned_scopes", abandoned),
	)
	return ErrScopeMismatch
}
