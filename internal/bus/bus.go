// Package bus connects isolated execution contexts. Each endpoint owns a
// goroutine that handles its requests one at a time; endpoints share no
// memory and talk only through message values.
package bus

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrUnreachable is returned when the target endpoint is unknown, closed, or
// goes away before it answers.
var ErrUnreachable = eris.New("endpoint unreachable")

// defaultQueue is the inbox size of an endpoint.
const defaultQueue = 16

// Handler processes one request. It may answer before returning or hand the
// request to another goroutine and answer later.
type Handler func(ctx context.Context, req *Request)

// Request is a message in flight.
type Request struct {
	From string
	Msg  any

	reply chan reply
	once  sync.Once
}

type reply struct {
	msg any
	err error
}

// Respond answers the request. Only the first call counts, it never blocks,
// and it is a no-op for posted messages.
func (r *Request) Respond(msg any, err error) {
	if r.reply == nil {
		return
	}
	r.once.Do(func() {
		r.reply <- reply{msg: msg, err: err}
	})
}

// Bus is the registry of live endpoints.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	log       *zap.Logger
}

// New creates an empty bus
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{endpoints: make(map[string]*Endpoint), log: log}
}

// Endpoint is a registered context.
type Endpoint struct {
	name    string
	inbox   chan *Request
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	bus     *Bus
}

// Name returns the address of the endpoint
func (e *Endpoint) Name() string { return e.name }

// Done is closed once the endpoint stops accepting messages.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Register starts an endpoint under name. It runs until ctx ends or Close is
// called. Registering a live name fails.
func (b *Bus) Register(ctx context.Context, name string, h Handler) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[name]; ok {
		return nil, eris.Errorf("endpoint %q already registered", name)
	}
	ep := &Endpoint{
		name:    name,
		inbox:   make(chan *Request, defaultQueue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		bus:     b,
	}
	b.endpoints[name] = ep

	go ep.run(ctx, h)
	b.log.Debug("endpoint registered", zap.String("endpoint", name))
	return ep, nil
}

func (e *Endpoint) run(ctx context.Context, h Handler) {
	defer close(e.stopped)
	defer e.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case req := <-e.inbox:
			h(ctx, req)
		}
	}
}

// Close unregisters the endpoint. Requests still queued fail with
// ErrUnreachable.
func (e *Endpoint) Close() {
	e.once.Do(func() {
		e.bus.mu.Lock()
		if e.bus.endpoints[e.name] == e {
			delete(e.bus.endpoints, e.name)
		}
		e.bus.mu.Unlock()
		close(e.done)

		for {
			select {
			case req := <-e.inbox:
				req.Respond(nil, ErrUnreachable)
			default:
				e.bus.log.Debug("endpoint closed", zap.String("endpoint", e.name))
				return
			}
		}
	})
}

// Wait blocks until the endpoint goroutine has exited.
func (e *Endpoint) Wait() { <-e.stopped }

func (b *Bus) lookup(name string) *Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoints[name]
}

// Send delivers msg to the endpoint named to and waits for its answer.
func (b *Bus) Send(ctx context.Context, from, to string, msg any) (any, error) {
	ep := b.lookup(to)
	if ep == nil {
		return nil, ErrUnreachable
	}
	req := &Request{From: from, Msg: msg, reply: make(chan reply, 1)}
	if err := ep.enqueue(ctx, req); err != nil {
		return nil, err
	}

	select {
	case r := <-req.reply:
		return r.msg, r.err
	case <-ep.done:
		// an answer may have raced with the close
		select {
		case r := <-req.reply:
			return r.msg, r.err
		default:
			return nil, ErrUnreachable
		}
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "wait for reply")
	}
}

// Post delivers msg without waiting for an answer.
func (b *Bus) Post(ctx context.Context, from, to string, msg any) error {
	ep := b.lookup(to)
	if ep == nil {
		return ErrUnreachable
	}
	return ep.enqueue(ctx, &Request{From: from, Msg: msg})
}

func (e *Endpoint) enqueue(ctx context.Context, req *Request) error {
	select {
	case <-e.done:
		return ErrUnreachable
	default:
	}
	select {
	case e.inbox <- req:
		return nil
	case <-e.done:
		return ErrUnreachable
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "enqueue")
	}
}

// Call sends msg and asserts the answer type.
func Call[T any](ctx context.Context, b *Bus, from, to string, msg any) (T, error) {
	var zero T
	out, err := b.Send(ctx, from, to, msg)
	if err != nil {
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, eris.Errorf("unexpected reply %T from %s", out, to)
	}
	return v, nil
}
