// Package server implements the relay core: the client registry, the
// per-connection session state machine, and the TCP and WebSocket listeners
// that feed it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"parlor/internal/config"
)

// Listener accepts TCP connections and runs one session goroutine per
// connection. It owns the server lifecycle: Stop closes the listening socket
// and every live session.
type Listener struct {
	cfg      *config.Config
	registry *Registry
	log      *logrus.Entry

	lnMu     sync.Mutex
	ln       net.Listener
	sessions sessionSet
	stopOnce sync.Once
	stopping chan struct{}
	wg       sync.WaitGroup
}

func NewListener(cfg *config.Config, registry *Registry, log *logrus.Entry) *Listener {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Listener{
		cfg:      cfg,
		registry: registry,
		log:      log,
		stopping: make(chan struct{}),
	}
}

// Start listens and serves until ctx is cancelled or Stop is called.
// Accept errors are logged and survived unless the listener is stopping.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// A Stop that ran before the socket existed could not close it. Publish
	// the socket and check for that under the same lock Stop takes.
	l.lnMu.Lock()
	select {
	case <-l.stopping:
		l.lnMu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	l.ln = ln
	l.lnMu.Unlock()

	l.log.WithField("addr", ln.Addr().String()).Info("chat relay listening")

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.stopping:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.stopping:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.WithError(err).Warn("accept failed")
			continue
		}

		sess := newSession(newTCPLineConn(conn, l.cfg.MaxLineBytes), l.registry, l.cfg.SinkBuffer, l.log)
		l.sessions.add(sess)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sessions.remove(sess)
			sess.run()
		}()
	}
}

// Addr returns the bound listen address, usable once Start has logged it.
// Handy with port 0 in tests.
func (l *Listener) Addr() net.Addr {
	l.lnMu.Lock()
	defer l.lnMu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Stop closes the listening socket, force-closes all live sessions, waits
// for their goroutines, and clears the registry. Safe to call more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopping)
		l.lnMu.Lock()
		if l.ln != nil {
			_ = l.ln.Close()
		}
		l.lnMu.Unlock()
		l.sessions.closeAll()
		l.wg.Wait()
		l.registry.clear()
		l.log.Info("chat relay stopped")
	})
}

// sessionSet tracks live sessions so shutdown can reach them.
type sessionSet struct {
	mu  sync.Mutex
	set map[*Session]struct{}
}

func (ss *sessionSet) add(s *Session) {
	ss.mu.Lock()
	if ss.set == nil {
		ss.set = make(map[*Session]struct{})
	}
	ss.set[s] = struct{}{}
	ss.mu.Unlock()
}

func (ss *sessionSet) remove(s *Session) {
	ss.mu.Lock()
	delete(ss.set, s)
	ss.mu.Unlock()
}

func (ss *sessionSet) closeAll() {
	ss.mu.Lock()
	live := make([]*Session, 0, len(ss.set))
	for s := range ss.set {
		live = append(live, s)
	}
	ss.mu.Unlock()

	for _, s := range live {
		s.close()
	}
}
