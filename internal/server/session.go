package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"parlor/internal/protocol"
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateAuthenticating
	stateActive
	stateClosed
)

// Client-visible reply texts.
const (
	welcomePrefix        = "Welcome to the chat, "
	invalidUsernameText  = "Invalid username format. Use 2-20 alphanumeric characters."
	usernameTakenText    = "Username already taken. Please try another."
	privateSentPrefix    = "Private message sent to "
	fileSentPrefix       = "File sent to "
	userNotFoundFmtOpen  = "User '"
	userNotFoundFmtClose = "' not found"
)

// Session runs the per-connection protocol state machine: the username
// handshake, then the read/dispatch loop. One session per accepted
// connection, on its own goroutine.
type Session struct {
	id       string
	conn     lineConn
	registry *Registry

	// sink is where the registry delivers outbound messages. The session
	// owns it; the write pump drains it once the handshake has completed.
	sink chan protocol.Message

	username string
	state    sessionState

	mu        sync.Mutex // guards state, username and log
	closeOnce sync.Once
	done      chan struct{}

	log *logrus.Entry
}

func newSession(conn lineConn, registry *Registry, sinkBuffer int, log *logrus.Entry) *Session {
	id := uuid.NewString()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		sink:     make(chan protocol.Message, sinkBuffer),
		state:    stateConnecting,
		done:     make(chan struct{}),
		log:      log.WithFields(logrus.Fields{"session": id, "remote": conn.RemoteAddr()}),
	}
}

// run drives the session to completion and always leaves it Closed.
func (s *Session) run() {
	defer s.close()

	if !s.authenticate() {
		return
	}

	s.log.Info("session active")
	s.readLoop()
}

// authenticate performs the prompt/validate/register/accept handshake.
// On success the write pump is started and the join is announced, strictly
// in that order: the SUCCESS line must be flushed to this connection before
// any join broadcast can reach it.
func (s *Session) authenticate() bool {
	if err := s.conn.WriteLine(protocol.PromptUsername); err != nil {
		s.log.WithError(err).Debug("failed to send username prompt")
		return false
	}
	s.setState(stateAuthenticating)

	line, err := s.conn.ReadLine()
	if err != nil {
		s.log.WithError(err).Debug("connection lost during handshake")
		return false
	}
	proposed := strings.TrimSpace(line)

	if !protocol.ValidUsername(proposed) {
		_ = s.conn.WriteLine(protocol.ErrorLine(invalidUsernameText))
		s.log.WithField("proposed", proposed).Info("rejected invalid username")
		return false
	}

	if !s.registry.Register(proposed, s.sink) {
		_ = s.conn.WriteLine(protocol.ErrorLine(usernameTakenText))
		s.log.WithField("proposed", proposed).Info("rejected duplicate username")
		return false
	}
	s.mu.Lock()
	if s.state == stateClosed {
		// A force-close won the race after Register; its Unregister saw an
		// empty username, so the registration is ours to undo.
		s.mu.Unlock()
		s.registry.Unregister(proposed)
		return false
	}
	s.username = proposed
	s.log = s.log.WithField("user", proposed)
	s.mu.Unlock()

	if err := s.conn.WriteLine(protocol.SuccessLine(welcomePrefix + proposed + "!")); err != nil {
		// Registered but never acknowledged; close() unregisters.
		s.log.WithError(err).Debug("failed to send acceptance")
		return false
	}

	s.setState(stateActive)
	go s.writePump()

	// Only now may the rest of the chat learn about the join. Anything
	// broadcast since Register is queued in the sink and drains strictly
	// after the acceptance line above.
	s.registry.NotifyJoined(proposed)

	return true
}

// readLoop decodes one message per line and dispatches it until the stream
// ends, a transport error occurs, or the client announces Leave. Malformed
// lines are dropped, never fatal.
func (s *Session) readLoop() {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !s.closed() {
				s.log.WithError(err).Warn("read failed")
			}
			return
		}
		if line == "" {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			s.log.WithError(err).Warn("dropping malformed message")
			continue
		}

		if !s.dispatch(msg) {
			return
		}
	}
}

// dispatch routes one decoded inbound message. It returns false when the
// session should terminate.
func (s *Session) dispatch(msg protocol.Message) bool {
	switch msg.Kind {
	case protocol.KindNormal:
		s.registry.Broadcast(msg, s.username)
		s.log.Debug("broadcast message")

	case protocol.KindImage:
		s.registry.Broadcast(msg, s.username)
		s.log.WithField("attachment", msg.AttachmentName).Debug("broadcast image")

	case protocol.KindFile:
		if msg.Recipient != "" {
			if s.registry.RouteDirect(msg, msg.Recipient) {
				s.deliverSystem(fileSentPrefix + msg.Recipient)
				s.log.WithFields(logrus.Fields{"to": msg.Recipient, "attachment": msg.AttachmentName}).
					Debug("routed file")
			} else {
				s.reportUnknownRecipient(msg.Recipient)
			}
		} else {
			s.registry.Broadcast(msg, s.username)
			s.log.WithField("attachment", msg.AttachmentName).Debug("broadcast file")
		}

	case protocol.KindPrivate:
		if msg.Recipient == "" {
			s.log.Debug("dropping private message without recipient")
			break
		}
		if s.registry.RouteDirect(msg, msg.Recipient) {
			s.deliverSystem(privateSentPrefix + msg.Recipient)
			s.log.WithField("to", msg.Recipient).Debug("routed private message")
		} else {
			s.reportUnknownRecipient(msg.Recipient)
		}

	case protocol.KindLeave:
		s.log.Debug("client announced leave")
		return false

	default:
		// Voice and the server-to-client kinds are tolerated but
		// meaningless coming from a client.
		s.log.WithField("kind", msg.Kind).Debug("ignoring inbound message kind")
	}

	return true
}

// reportUnknownRecipient surfaces a failed direct route to this sender only.
func (s *Session) reportUnknownRecipient(recipient string) {
	entry := s.log.WithField("to", recipient)
	if t, ok := s.registry.LastSeen(recipient); ok {
		entry = entry.WithField("lastSeen", t.Format("15:04:05"))
	}
	entry.Info("direct route to unknown recipient")

	s.deliverSystem(userNotFoundFmtOpen + recipient + userNotFoundFmtClose)
}

// deliverSystem queues a System message onto this session's own sink.
func (s *Session) deliverSystem(text string) {
	select {
	case s.sink <- protocol.New(protocol.KindSystem, protocol.SystemSender, text):
	case <-s.done:
	}
}

// writePump drains the sink onto the connection. It is the only writer after
// the handshake, so per-sink delivery order is preserved end to end.
func (s *Session) writePump() {
	for {
		select {
		case msg := <-s.sink:
			if err := s.conn.WriteLine(protocol.Encode(msg)); err != nil {
				if !s.closed() {
					s.log.WithError(err).Debug("write failed")
				}
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// close is idempotent: it unregisters (a no-op when never registered),
// releases the connection, and stops the write pump.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		username := s.username
		log := s.log
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close()
		s.registry.Unregister(username)
		log.Debug("session closed")
	})
}

func (s *Session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}
