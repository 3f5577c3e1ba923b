package net

import (
	"context"
	"errors"
	"fmt"
	gonet "net"
	"strings"
	"sync"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/drand/bracha/key"
	"github.com/drand/bracha/log"
)

// number of dial attempts before a send is reported as failed
const dialAttempts = 3

// base delay between two dial attempts, growing linearly
const dialBackoff = 100 * time.Millisecond

// Router holds all incoming and outgoing alive connections and permits the
// layer above to send and receive payloads with each connection mapped to a
// group member address.
type Router struct {
	l     log.Logger
	clock clock.Clock
	group *key.Group
	addr  string
	port  string

	connMut sync.Mutex
	conns   map[string]*Conn

	messages chan Inbound
	listener gonet.Listener
	done     chan struct{}
	stopOnce sync.Once
}

var _ Transport = (*Router)(nil)

// NewRouter returns a router for the node at the given address of the group.
func NewRouter(l log.Logger, c clock.Clock, group *key.Group, addr string) (*Router, error) {
	if group.Find(addr) == nil {
		return nil, fmt.Errorf("router: address %s not in group", addr)
	}
	_, port, err := gonet.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("router: invalid address %s: %w", addr, err)
	}
	return &Router{
		l:        l.Named("router"),
		clock:    c,
		group:    group,
		addr:     addr,
		port:     port,
		conns:    make(map[string]*Conn),
		messages: make(chan Inbound, 4*group.Len()),
		done:     make(chan struct{}),
	}, nil
}

// Listen opens the router's tcp port and starts accepting connections from
// peers. It returns once the listener is bound.
func (r *Router) Listen() error {
	listener, err := gonet.Listen("tcp", "0.0.0.0:"+r.port)
	if err != nil {
		return fmt.Errorf("router: can't listen on %s: %w", r.port, err)
	}
	r.listener = listener
	r.l.Infow("listening", "addr", r.addr)
	go r.acceptLoop()
	return nil
}

func (r *Router) acceptLoop() {
	for {
		c, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
			default:
				if !strings.Contains(err.Error(), "closed") {
					r.l.Errorw("accept failed", "err", err)
				}
			}
			return
		}
		go r.handleIncoming(&Conn{Conn: c})
	}
}

// handleIncoming expects the hello frame carrying the address of the remote
// party first, then reads payloads as on any established connection.
func (r *Router) handleIncoming(c *Conn) {
	hello, err := c.Receive()
	if err != nil {
		r.l.Debugw("no hello from incoming connection", "remote", c.RemoteAddr(), "err", err)
		c.Close()
		return
	}
	src := string(hello)
	// only deal with addresses this router knows
	if r.group.Find(src) == nil {
		r.l.Debugw("unknown peer address", "claimed", src, "remote", c.RemoteAddr())
		c.Close()
		return
	}
	if registered := r.register(src, c); registered == c {
		r.readLoop(src, c)
	}
}

// Send delivers the payload to the given group member, dialing it first if no
// connection is alive.
func (r *Router) Send(ctx context.Context, dst string, data []byte) error {
	if dst == r.addr {
		return errors.New("router: cannot send to self")
	}
	if r.group.Find(dst) == nil {
		return fmt.Errorf("router: unknown destination %s", dst)
	}
	c, err := r.connect(ctx, dst)
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		r.unregister(dst, c)
		return fmt.Errorf("router: sending to %s: %w", dst, err)
	}
	return nil
}

// Incoming returns the channel of payloads received from all peers.
func (r *Router) Incoming() <-chan Inbound {
	return r.messages
}

// Stop closes the listener and every alive connection.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.listener != nil {
			r.listener.Close()
		}
		r.connMut.Lock()
		for _, c := range r.conns {
			c.Close()
		}
		r.conns = make(map[string]*Conn)
		r.connMut.Unlock()
		r.l.Debugw("stopped")
	})
}

// connect returns the alive connection to dst, dialing with bounded retries
// when none exists.
func (r *Router) connect(ctx context.Context, dst string) (*Conn, error) {
	r.connMut.Lock()
	c, ok := r.conns[dst]
	r.connMut.Unlock()
	if ok {
		return c, nil
	}

	var lastErr error
	for i := 0; i < dialAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := gonet.Dial("tcp", dst)
		if err != nil {
			lastErr = err
			r.clock.Sleep(time.Duration(i+1) * dialBackoff)
			continue
		}
		cc := &Conn{Conn: conn}
		// the hello frame authenticates us to the acceptor
		if err := cc.Send([]byte(r.addr)); err != nil {
			cc.Close()
			lastErr = err
			continue
		}
		registered := r.register(dst, cc)
		if registered == cc {
			go r.readLoop(dst, cc)
		}
		return registered, nil
	}
	return nil, fmt.Errorf("router: dialing %s: %w", dst, lastErr)
}

// register keeps the first connection established per peer; a racing
// duplicate is closed.
func (r *Router) register(src string, c *Conn) *Conn {
	r.connMut.Lock()
	defer r.connMut.Unlock()
	if existing, ok := r.conns[src]; ok {
		r.l.Debugw("already connected", "peer", src)
		c.Close()
		return existing
	}
	r.conns[src] = c
	return c
}

func (r *Router) unregister(src string, c *Conn) {
	r.connMut.Lock()
	defer r.connMut.Unlock()
	if existing, ok := r.conns[src]; ok && existing == c {
		delete(r.conns, src)
	}
	c.Close()
}

// readLoop pushes every frame read on the connection to the messages
// channel, preserving the arrival order per source.
func (r *Router) readLoop(src string, c *Conn) {
	for {
		buff, err := c.Receive()
		if err != nil {
			select {
			case <-r.done:
			default:
				r.l.Debugw("connection lost", "peer", src, "err", err)
			}
			r.unregister(src, c)
			return
		}
		select {
		case r.messages <- Inbound{Src: src, Data: buff}:
		case <-r.done:
			return
		}
	}
}
