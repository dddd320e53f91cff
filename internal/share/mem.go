package share

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// Op names a collaborator call in the journal and in fault keys.
type Op string

const (
	OpCreate    Op = "create"
	OpDelete    Op = "delete"
	OpExists    Op = "exists"
	OpOpenWrite Op = "open_write"
	OpOpenRead  Op = "open_read"
	OpClose     Op = "close"
)

// Event is one journaled call against a MemShare. Failed calls are journaled
// too, with Err set.
type Event struct {
	Seq       int
	Op        Op
	Name      string
	Client    int
	Exclusive bool
	Err       error
	At        time.Time
}

// Fault runs before the faulted operation, outside the share lock. A non-nil
// return fails the operation with that error.
type Fault func(ctx context.Context, name string) error

// Fail returns a fault that always fails with err.
func Fail(err error) Fault {
	return func(context.Context, string) error { return err }
}

// Block returns a fault that stalls until release is closed. It ignores ctx,
// like a client stuck waiting on the wire.
func Block(release <-chan struct{}) Fault {
	return func(context.Context, string) error {
		<-release
		return nil
	}
}

// Panic returns a fault that panics with v.
func Panic(v any) Fault {
	return func(context.Context, string) error { panic(v) }
}

type faultKey struct {
	op     Op
	client int
}

type memFile struct {
	data      []byte
	opens     int
	exclusive bool
}

// MemShare is an in-process share. Clients are numbered from 1 in the order
// Handle is called.
type MemShare struct {
	mu      sync.Mutex
	files   map[string]*memFile
	faults  map[faultKey]Fault
	journal []Event
	clients int
}

var _ Share = (*MemShare)(nil)

func NewMemShare() *MemShare {
	return &MemShare{
		files:  make(map[string]*memFile),
		faults: make(map[faultKey]Fault),
	}
}

func (m *MemShare) Handle(name string) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients++
	return &memHandle{share: m, name: name, client: m.clients}
}

// InjectFault installs f for op on the given client. Client 0 matches every
// client without a fault of its own.
func (m *MemShare) InjectFault(op Op, client int, f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[faultKey{op: op, client: client}] = f
}

// Journal returns a copy of every call made so far, in order.
func (m *MemShare) Journal() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.journal))
	copy(out, m.journal)
	return out
}

// Names lists the resources currently present, sorted.
func (m *MemShare) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contents returns a copy of a resource's bytes.
func (m *MemShare) Contents(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

func (m *MemShare) fault(op Op, client int) Fault {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.faults[faultKey{op: op, client: client}]; ok {
		return f
	}
	return m.faults[faultKey{op: op}]
}

func (m *MemShare) recordLocked(ev Event) {
	ev.Seq = len(m.journal)
	ev.At = time.Now()
	m.journal = append(m.journal, ev)
}

type memHandle struct {
	share  *MemShare
	name   string
	client int
}

func (h *memHandle) Name() string { return h.name }

// do runs fn under the share lock after ctx and fault checks, and journals
// the outcome.
func (h *memHandle) do(ctx context.Context, op Op, exclusive bool, fn func() error) error {
	err := ctx.Err()
	if err == nil {
		if f := h.share.fault(op, h.client); f != nil {
			err = f(ctx, h.name)
		}
	}

	h.share.mu.Lock()
	defer h.share.mu.Unlock()
	if err == nil {
		err = fn()
	}
	h.share.recordLocked(Event{Op: op, Name: h.name, Client: h.client, Exclusive: exclusive, Err: err})
	if err != nil {
		return &OpError{Op: string(op), Name: h.name, Err: err}
	}
	return nil
}

func (h *memHandle) Create(ctx context.Context) error {
	return h.do(ctx, OpCreate, false, func() error {
		if _, ok := h.share.files[h.name]; !ok {
			h.share.files[h.name] = &memFile{}
		}
		return nil
	})
}

func (h *memHandle) Delete(ctx context.Context) error {
	return h.do(ctx, OpDelete, false, func() error {
		f, ok := h.share.files[h.name]
		switch {
		case !ok:
			return ErrNotExist
		case f.opens > 0:
			return ErrSharingViolation
		}
		delete(h.share.files, h.name)
		return nil
	})
}

func (h *memHandle) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := h.do(ctx, OpExists, false, func() error {
		_, exists = h.share.files[h.name]
		return nil
	})
	return exists, err
}

func (h *memHandle) OpenForWrite(ctx context.Context, exclusive bool) (io.WriteCloser, error) {
	var w *memStream
	err := h.do(ctx, OpOpenWrite, exclusive, func() error {
		f, ok := h.share.files[h.name]
		if !ok {
			f = &memFile{}
			h.share.files[h.name] = f
		}
		if f.exclusive || (exclusive && f.opens > 0) {
			return ErrSharingViolation
		}
		f.opens++
		f.exclusive = exclusive
		f.data = nil
		w = &memStream{handle: h, file: f, exclusive: exclusive}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (h *memHandle) OpenForRead(ctx context.Context) (io.ReadCloser, error) {
	var r *memStream
	err := h.do(ctx, OpOpenRead, false, func() error {
		f, ok := h.share.files[h.name]
		switch {
		case !ok:
			return ErrNotExist
		case f.exclusive:
			return ErrSharingViolation
		}
		f.opens++
		r = &memStream{handle: h, file: f}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// memStream is both the read and the write side of an open.
type memStream struct {
	handle    *memHandle
	file      *memFile
	exclusive bool
	offset    int
	closed    bool
}

func (s *memStream) Write(p []byte) (int, error) {
	m := s.handle.share
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.file.data = append(s.file.data, p...)
	return len(p), nil
}

func (s *memStream) Read(p []byte) (int, error) {
	m := s.handle.share
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.offset >= len(s.file.data) {
		return 0, io.EOF
	}
	n := copy(p, s.file.data[s.offset:])
	s.offset += n
	return n, nil
}

func (s *memStream) Close() error {
	m := s.handle.share
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if s.closed {
		err = ErrClosed
	} else {
		s.closed = true
		s.file.opens--
		if s.exclusive {
			s.file.exclusive = false
		}
	}
	m.recordLocked(Event{Op: OpClose, Name: s.handle.name, Client: s.handle.client, Exclusive: s.exclusive, Err: err})
	if err != nil {
		return &OpError{Op: string(OpClose), Name: s.handle.name, Err: err}
	}
	return nil
}
