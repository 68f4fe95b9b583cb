package server

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"github.com/sirupsen/logrus"

	"parlor/internal/protocol"
)

// Announcement texts sent on membership changes.
const (
	joinedSuffix = " has joined the chat"
	leftSuffix   = " has left the chat"
)

// Registry is the authoritative map of online usernames to their outbound
// sinks. It is the only state shared across session goroutines; every
// operation is internally synchronized.
type Registry struct {
	// Map of username -> outbound sink owned by that user's session.
	members map[string]chan<- protocol.Message

	// Last time a departed username was seen, kept for operator logs.
	lastSeen geche.Geche[string, time.Time]

	mu  sync.RWMutex
	log *logrus.Entry
}

func NewRegistry(ctx context.Context, lastSeenTTL time.Duration, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		members:  make(map[string]chan<- protocol.Message),
		lastSeen: geche.NewMapTTLCache[string, time.Time](ctx, lastSeenTTL, time.Minute),
		log:      log,
	}
}

// Register atomically claims username for sink. It returns false without
// mutation when the name is already held; two sessions racing on the same
// name yield exactly one success.
func (r *Registry) Register(username string, sink chan<- protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.members[username]; taken {
		return false
	}
	r.members[username] = sink

	r.log.WithFields(logrus.Fields{"user": username, "online": len(r.members)}).
		Info("client registered")

	// No broadcast here: the session announces the join itself after its
	// acceptance line is flushed, so the new client never sees join
	// traffic before SUCCESS.
	return true
}

// Unregister removes username if present. A removal that changes membership
// broadcasts a System departure announcement followed by a fresh user list
// to everyone still connected. Unknown names are a no-op, so closing a
// session that never authenticated is safe, as is closing one twice.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	_, present := r.members[username]
	if present {
		delete(r.members, username)
		r.lastSeen.Set(username, time.Now())
	}
	online := len(r.members)
	r.mu.Unlock()

	if !present {
		return
	}

	r.log.WithFields(logrus.Fields{"user": username, "online": online}).
		Info("client disconnected")

	r.Broadcast(protocol.New(protocol.KindSystem, protocol.SystemSender, username+leftSuffix), "")
	r.broadcastUserList()
}

// NotifyJoined broadcasts a fresh user list followed by a System join
// announcement. Both go to every member including username itself: the
// membership list has to be consistent for the client that just joined too.
// Callers must invoke this only after the joining session's acceptance line
// has been flushed.
func (r *Registry) NotifyJoined(username string) {
	r.broadcastUserList()
	r.Broadcast(protocol.New(protocol.KindSystem, protocol.SystemSender, username+joinedSuffix), "")
}

// Broadcast delivers msg to every registered sink except excludeUsername
// (empty excludes nobody). Delivery is fire and forget over a stable
// snapshot: a full or abandoned sink is skipped and never blocks the rest.
func (r *Registry) Broadcast(msg protocol.Message, excludeUsername string) {
	r.mu.RLock()
	targets := make(map[string]chan<- protocol.Message, len(r.members))
	for name, sink := range r.members {
		if excludeUsername != "" && name == excludeUsername {
			continue
		}
		targets[name] = sink
	}
	r.mu.RUnlock()

	for name, sink := range targets {
		select {
		case sink <- msg:
		default:
			r.log.WithField("user", name).Debug("sink full, dropping broadcast delivery")
		}
	}
}

// RouteDirect delivers msg to exactly one named recipient. It returns false
// when the recipient is unknown; surfacing that to the sender is the
// caller's job.
func (r *Registry) RouteDirect(msg protocol.Message, recipientUsername string) bool {
	r.mu.RLock()
	sink, ok := r.members[recipientUsername]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	select {
	case sink <- msg:
	default:
		r.log.WithField("user", recipientUsername).Debug("sink full, dropping direct delivery")
	}
	return true
}

// Snapshot returns a point-in-time copy of the registered usernames.
// No ordering is guaranteed.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	return names
}

// LastSeen reports when a currently-offline username was last connected.
func (r *Registry) LastSeen(username string) (time.Time, bool) {
	t, err := r.lastSeen.Get(username)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// clear drops all members without departure broadcasts. Used on shutdown
// after the sessions themselves have been closed.
func (r *Registry) clear() {
	r.mu.Lock()
	r.members = make(map[string]chan<- protocol.Message)
	r.mu.Unlock()
}

func (r *Registry) broadcastUserList() {
	list := protocol.New(protocol.KindUserList, protocol.SystemSender,
		protocol.JoinUserList(r.Snapshot()))
	r.Broadcast(list, "")
}
