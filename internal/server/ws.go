package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"parlor/internal/config"
)

// WSBridge carries the same line protocol over WebSocket text frames, one
// frame per line. Browser clients go through the identical session state
// machine as TCP ones.
type WSBridge struct {
	cfg      *config.Config
	registry *Registry
	log      *logrus.Entry

	server   *http.Server
	upgrader *websocket.Upgrader
	lnMu     sync.Mutex
	ln       net.Listener
	sessions sessionSet
}

func NewWSBridge(cfg *config.Config, registry *Registry, log *logrus.Entry) *WSBridge {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &WSBridge{
		cfg:      cfg,
		registry: registry,
		log:      log,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // same trust model as the open TCP port
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", b.handleChat)
	b.server = &http.Server{Addr: cfg.WSAddr, Handler: mux}

	return b
}

// Start serves until Shutdown. The listener is created here so tests can
// bind port 0 and read Addr afterwards.
func (b *WSBridge) Start() error {
	ln, err := net.Listen("tcp", b.cfg.WSAddr)
	if err != nil {
		return err
	}
	b.lnMu.Lock()
	b.ln = ln
	b.lnMu.Unlock()
	b.log.WithField("addr", ln.Addr().String()).Info("websocket bridge listening")

	if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// A Shutdown that raced ahead of Serve never tracked the socket.
	_ = ln.Close()
	return nil
}

func (b *WSBridge) Addr() net.Addr {
	b.lnMu.Lock()
	defer b.lnMu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Shutdown stops accepting upgrades and force-closes live bridge sessions.
func (b *WSBridge) Shutdown(ctx context.Context) error {
	b.sessions.closeAll()
	return b.server.Shutdown(ctx)
}

func (b *WSBridge) handleChat(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(int64(b.cfg.MaxLineBytes))

	sess := newSession(&wsLineConn{conn: ws}, b.registry, b.cfg.SinkBuffer, b.log)
	b.sessions.add(sess)
	defer b.sessions.remove(sess)
	sess.run()
}

// wsLineConn adapts a websocket connection to the lineConn the session
// machine expects: one text frame per protocol line.
type wsLineConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; gorilla allows one writer at a time
}

func (c *wsLineConn) ReadLine() (string, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt == websocket.TextMessage {
			return string(data), nil
		}
		// Binary frames are not part of the protocol; payloads travel
		// base64-encoded inside text lines.
	}
}

func (c *wsLineConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsLineConn) Close() error {
	return c.conn.Close()
}

func (c *wsLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
