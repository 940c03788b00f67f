package main

import (
	"context"
	"fmt"
	"os"
	"sync"
)

type handler func(ctx context.Context, from string, msg interface{}) error

type envelope struct {
	from string
	msg  interface{}
}

// bus is an in-process message transport. Each address owns an inbox;
// serve drains an inbox through a handler until the context ends.
type bus struct {
	mu      sync.Mutex
	inboxes map[string]chan envelope
}

func newBus() *bus {
	return &bus{inboxes: make(map[string]chan envelope)}
}

func (b *bus) inbox(addr string) chan envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inboxes[addr]
	if !ok {
		ch = make(chan envelope, 16)
		b.inboxes[addr] = ch
	}
	return ch
}

// endpoint is one party's handle on the bus; every message it sends
// carries that party's address as the envelope sender. It implements the
// merchant and wallet Sender interfaces.
type endpoint struct {
	bus  *bus
	from string
}

func (b *bus) endpoint(from string) *endpoint {
	return &endpoint{bus: b, from: from}
}

func (e *endpoint) Send(ctx context.Context, destination string, message interface{}) error {
	select {
	case e.bus.inbox(destination) <- envelope{from: e.from, msg: message}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send to %s: %w", destination, ctx.Err())
	}
}

func (b *bus) serve(ctx context.Context, addr string, h handler) {
	ch := b.inbox(addr)
	go func() {
		for {
			select {
			case env := <-ch:
				if err := h(ctx, env.from, env.msg); err != nil {
					fmt.Fprintf(os.Stderr, "handle %T at %s: %v\n", env.msg, addr, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
