// Package session implements the websocket session endpoint of spec.md
// §4.E: an accepted authenticated socket that parses the client protocol,
// drives the presence store, manages subscriptions against the follow
// graph, and dispatches bus envelopes back to the client.
//
// Grounded on the teacher's websocket.Server: connState generalizes into
// Session, registerConn/cleanupConn/writeJSON and the heartbeat-miss
// watchdog carry over almost unchanged, and the per-subject drop-oldest
// outbound policy is the teacher's broadcast drop-on-full rule scoped to
// one slot per subject instead of one shared channel.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"presence/src/auth"
	"presence/src/bus"
	"presence/src/concurrency"
	"presence/src/graph"
	"presence/src/logging"
	"presence/src/metrics"
	"presence/src/presencestore"
	"presence/src/protocol"
)

// state is the session's explicit FSM, per spec.md §4.E. The teacher's
// protocol has no equivalent state machine, so this part follows
// spec.md directly, written in the teacher's idiom of a plain const-iota
// state guarded by the session's own mutex.
type state int

const (
	stateAccepted state = iota
	stateAuthenticated
	stateReady
	stateServing
	stateClosing
	stateClosed
)

const (
	// socketHeartbeatInterval and socketHeartbeatMisses govern the
	// transport-liveness watchdog, a concern distinct from the 30s
	// presence heartbeat window: every 15s it checks whether a heartbeat
	// arrived within the last 17s, and closes the socket after three
	// consecutive misses. A silent socket therefore stays open for about
	// 47-62s after its last heartbeat, longer than its presence record.
	socketHeartbeatInterval = 15 * time.Second
	socketHeartbeatJitter   = 2 * time.Second
	socketHeartbeatMisses   = 3

	inboxBuffer = 64
)

// Clock abstracts wall-clock time for testability.
type Clock func() int64

// DefaultClock returns the current Unix epoch second.
func DefaultClock() int64 { return time.Now().Unix() }

// Params bundles the endpoint's collaborators, all external per spec.md
// §9 ("any handle to the KV or bus is passed explicitly").
type Params struct {
	Store            *presencestore.Store
	Graph            *graph.Adapter
	Bus              bus.Bus
	Identifier       auth.Identifier
	ShardKeyFor      func(userID int64) string
	StateKeyFor      func(userID int64) string
	MaxSubscriptions int
	Clock            Clock
}

// Endpoint mounts the websocket handler and owns the process-wide session
// registry, guarded by a single reader/writer lock per spec.md §5.
type Endpoint struct {
	params   Params
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewEndpoint(p Params) *Endpoint {
	if p.Clock == nil {
		p.Clock = DefaultClock
	}
	return &Endpoint{
		params: p,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*Session]struct{}),
	}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := e.params.Identifier.Identify(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("session: upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 16)

	sess := newSession(uuid.NewString(), userID, conn, e.params)
	sess.state = stateAuthenticated
	e.register(sess)
	defer e.unregister(sess)

	sess.onConnect(context.Background())
	concurrency.GoSafe(sess.watchSocketHeartbeat)
	concurrency.GoSafe(sess.collectEnvelopes)
	concurrency.GoSafe(sess.pumpOutbound)
	sess.readLoop()
}

func (e *Endpoint) register(s *Session) {
	e.mu.Lock()
	e.sessions[s] = struct{}{}
	count := len(e.sessions)
	e.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

func (e *Endpoint) unregister(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s)
	count := len(e.sessions)
	e.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
	s.teardown()
}

// Session is one accepted authenticated socket, generalized from the
// teacher's connState.
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	params Params
	inbox  *bus.Subscriber

	mu             sync.Mutex // guards state, subs, lastSocketBeat, misses
	state          state
	subs           map[int64]struct{}
	lastSocketBeat time.Time
	misses         int

	writeMu sync.Mutex // serializes websocket writes

	outboxMu sync.Mutex
	outbox   map[int64]protocol.OutboundStatus // per-subject pending sends; overwritten, never queued
	wake     chan struct{}
	done     chan struct{}
}

func newSession(id string, userID int64, conn *websocket.Conn, p Params) *Session {
	return &Session{
		id:             id,
		userID:         userID,
		conn:           conn,
		params:         p,
		inbox:          bus.NewSubscriber(inboxBuffer),
		subs:           make(map[int64]struct{}),
		lastSocketBeat: time.Now(),
		outbox:         make(map[int64]protocol.OutboundStatus),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// onConnect implements spec.md §4.E's connect sequence: join the self
// topic unconditionally, then mark the session ready.
func (s *Session) onConnect(ctx context.Context) {
	s.mu.Lock()
	s.subs[s.userID] = struct{}{}
	s.state = stateReady
	s.mu.Unlock()
	s.params.Bus.Join(bus.Topic(s.userID), s.inbox)
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		var in protocol.Inbound
		if err := s.conn.ReadJSON(&in); err != nil {
			return
		}
		s.handle(context.Background(), in)
	}
}

func (s *Session) handle(ctx context.Context, in protocol.Inbound) {
	now := s.params.Clock()
	switch in.Type {
	case protocol.TypeHeartbeat:
		s.handleHeartbeat(ctx, now)
	case protocol.TypeAway:
		s.handleSemantic(ctx, presencestore.StatusAway, now)
	case protocol.TypeActive:
		s.handleSemantic(ctx, presencestore.StatusOnline, now)
	case protocol.TypeSubscribe:
		s.handleSubscribe(ctx, in.TargetUserID, now)
	case protocol.TypeUnsubscribe:
		s.handleUnsubscribe(in.TargetUserID)
	default:
		s.sendError("unknown_type")
	}
}

func (s *Session) handleHeartbeat(ctx context.Context, now int64) {
	s.touchSocketBeat()

	shardKey := s.params.ShardKeyFor(s.userID)
	stateKey := s.params.StateKeyFor(s.userID)
	effect, err := s.params.Store.RecordHeartbeat(ctx, shardKey, stateKey, s.userID, now)
	if err != nil {
		logging.Log.WithError(err).WithField("user_id", s.userID).Warn("session: heartbeat failed")
		return
	}
	if effect.Kind == presencestore.EffectIgnored {
		metrics.HeartbeatsDropped.Inc()
		return
	}
	metrics.HeartbeatsAccepted.Inc()
	if effect.Kind == presencestore.EffectTransitioned {
		s.publishTransition(ctx, effect)
	}
}

func (s *Session) handleSemantic(ctx context.Context, target presencestore.Status, now int64) {
	shardKey := s.params.ShardKeyFor(s.userID)
	stateKey := s.params.StateKeyFor(s.userID)
	effect, err := s.params.Store.SetSemantic(ctx, shardKey, stateKey, s.userID, target, now)
	if err != nil {
		logging.Log.WithError(err).WithField("user_id", s.userID).Warn("session: semantic transition failed")
		return
	}
	if effect.Kind == presencestore.EffectTransitioned {
		s.publishTransition(ctx, effect)
	}
}

func (s *Session) publishTransition(ctx context.Context, effect presencestore.Effect) {
	env := bus.Envelope{Kind: bus.StatusChanged, UserID: s.userID, Status: string(effect.To), Ts: effect.Ts}
	if err := s.params.Bus.Publish(ctx, bus.Topic(s.userID), env); err != nil {
		logging.Log.WithError(err).WithField("user_id", s.userID).Warn("session: publish failed")
		metrics.BusPublishFailures.Inc()
		return
	}
	metrics.TransitionsTotal.WithLabelValues(string(effect.To)).Inc()
}

func (s *Session) handleSubscribe(ctx context.Context, target int64, now int64) {
	if target == s.userID {
		s.join(target)
		s.ackSubscribe(ctx, target, now)
		return
	}

	s.mu.Lock()
	count := len(s.subs)
	s.mu.Unlock()
	if count >= s.params.MaxSubscriptions {
		s.sendDenied(target, protocol.ReasonTooManySubscriptions)
		return
	}

	mutual, err := s.params.Graph.IsMutual(ctx, s.userID, target)
	if err != nil || !mutual {
		s.sendDenied(target, protocol.ReasonNotMutual)
		return
	}

	s.join(target)
	s.ackSubscribe(ctx, target, now)
}

func (s *Session) ackSubscribe(ctx context.Context, target int64, now int64) {
	shardKey := s.params.ShardKeyFor(target)
	stateKey := s.params.StateKeyFor(target)
	status, ts, err := s.params.Store.EffectiveStatus(ctx, shardKey, stateKey, target, now)
	if err != nil {
		logging.Log.WithError(err).WithField("user_id", target).Warn("session: snapshot lookup failed")
		status, ts = presencestore.StatusOffline, now
	}
	s.sendJSON(protocol.NewOutboundSubscribeAck(target, string(status), ts))
}

func (s *Session) join(target int64) {
	s.mu.Lock()
	s.subs[target] = struct{}{}
	s.mu.Unlock()
	s.params.Bus.Join(bus.Topic(target), s.inbox)
}

func (s *Session) handleUnsubscribe(target int64) {
	s.mu.Lock()
	_, ok := s.subs[target]
	delete(s.subs, target)
	s.mu.Unlock()
	if ok {
		s.params.Bus.Leave(bus.Topic(target), s.inbox)
	}
}

func (s *Session) sendDenied(target int64, reason string) {
	metrics.SubscribeDenied.WithLabelValues(reason).Inc()
	s.sendJSON(protocol.NewOutboundSubscribeDenied(target, reason))
}

func (s *Session) sendError(reason string) {
	s.sendJSON(protocol.NewOutboundError(reason))
}

// collectEnvelopes drains the bus inbox into the per-subject outbox,
// overwriting any pending envelope for the same user_id rather than
// queuing it, per spec.md §4.E's "drop the oldest pending status for the
// same user_id."
func (s *Session) collectEnvelopes() {
	for {
		select {
		case <-s.done:
			return
		case env, ok := <-s.inbox.Ch:
			if !ok {
				return
			}
			s.outboxMu.Lock()
			s.outbox[env.UserID] = protocol.NewOutboundStatus(env.UserID, env.Status, env.Ts)
			s.outboxMu.Unlock()
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

// pumpOutbound flushes the outbox to the socket whenever woken.
func (s *Session) pumpOutbound() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.flushOutbox()
		}
	}
}

func (s *Session) flushOutbox() {
	s.outboxMu.Lock()
	pending := s.outbox
	s.outbox = make(map[int64]protocol.OutboundStatus)
	s.outboxMu.Unlock()

	for _, out := range pending {
		if err := s.sendJSON(out); err != nil {
			return
		}
	}
}

func (s *Session) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// touchSocketBeat records that the socket transport is alive, distinct
// from the presence store's own heartbeat bookkeeping.
func (s *Session) touchSocketBeat() {
	s.mu.Lock()
	s.lastSocketBeat = time.Now()
	s.mu.Unlock()
}

func (s *Session) watchSocketHeartbeat() {
	ticker := time.NewTicker(socketHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			expected := socketHeartbeatInterval + socketHeartbeatJitter
			if time.Since(s.lastSocketBeat) > expected {
				s.misses++
			} else {
				s.misses = 0
			}
			misses := s.misses
			s.mu.Unlock()

			if misses >= socketHeartbeatMisses {
				logging.Log.WithFields(logrus.Fields{"user_id": s.userID, "session": s.id}).Warn("session: socket heartbeat timeout")
				_ = s.conn.Close()
				return
			}
		}
	}
}

// teardown implements spec.md §4.E disconnect: leave all joined topics,
// never touching the liveness heartbeat record.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = stateClosing
	topics := make([]int64, 0, len(s.subs))
	for t := range s.subs {
		topics = append(topics, t)
	}
	s.subs = nil
	s.mu.Unlock()

	for _, t := range topics {
		s.params.Bus.Leave(bus.Topic(t), s.inbox)
	}
	_ = s.conn.Close()

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
}
