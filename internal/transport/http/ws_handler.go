package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/telemetry"
)

// Inbound event types.
const (
	msgInitGame       = "initGame"
	msgJoinGame       = "joinGame"
	msgStartGame      = "startGame"
	msgSubmitAnswer   = "submitAnswer"
	msgEndQuestion    = "endQuestion"
	msgNextQuestion   = "nextQuestion"
	msgForceEndGame   = "forceEndGame"
	msgGetLeaderboard = "getLeaderboard"
	msgGetGameState   = "getGameState"
)

type WSHandler struct {
	coordinator *app.Coordinator
	auth        *Authenticator
	logger      *zap.Logger
	metrics     *telemetry.Metrics
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	closed  bool
	conns   map[*websocket.Conn]struct{}
	serving sync.WaitGroup
}

func NewWSHandler(coordinator *app.Coordinator, auth *Authenticator, logger *zap.Logger, metrics *telemetry.Metrics) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		coordinator: coordinator,
		auth:        auth,
		logger:      logger,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Close sends a going-away close frame to every open socket and waits, bounded by ctx, until
// their handlers have recorded the disconnects. New upgrades are refused afterwards.
// http.Server.Shutdown does not cover hijacked connections, so call this after it.
func (h *WSHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers an upgraded socket; it reports false once Close has begun.
func (h *WSHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.serving.Add(1)
	return true
}

func (h *WSHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.serving.Done()
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	Pin       string `json:"pin"`
	Player    struct {
		DisplayName string `json:"displayName"`
		Avatar      string `json:"avatar"`
	} `json:"player"`
}

type answerPayload struct {
	SessionID  string          `json:"sessionId"`
	AnswerID   string          `json:"answerId"`
	AnswerData json.RawMessage `json:"answerData"`
	AnswerTime *float64        `json:"answerTime"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

type leaderboardPayload struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

// connection is the per-socket state: who is connected, which session they are attached to,
// and the forwarder relaying that session's broadcasts.
type connection struct {
	identity Identity
	send     chan outboundMessage[any]
	closing  chan struct{}

	mu          sync.Mutex
	sessionID   string
	unsubscribe func()
	forwarders  sync.WaitGroup
}

// ServeWS upgrades HTTP requests to websockets and routes inbound events to the coordinator.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if !h.track(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		return
	}
	defer h.untrack(conn)

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	c := &connection{
		identity: identity,
		send:     make(chan outboundMessage[any], 16),
		closing:  make(chan struct{}),
	}
	log := h.logger.With(zap.String("participant_id", identity.ID))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				// Keep draining so producers never block on a dead socket.
				for range c.send {
				}
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, c, inbound)
	}

	close(c.closing)
	sessionID := c.detach()
	c.forwarders.Wait()
	if sessionID != "" {
		if err := h.coordinator.Disconnect(context.WithoutCancel(ctx), sessionID, identity.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn("disconnect failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	close(c.send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, c *connection, in inboundMessage) {
	switch in.Type {
	case msgInitGame:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventInitGameError) {
			return
		}
		snap, already, err := h.coordinator.Initialize(ctx, p.SessionID, c.identity.ID)
		if err != nil {
			h.fail(c, domain.EventInitGameError, err)
			return
		}
		if err := h.attach(ctx, c, p.SessionID); err != nil {
			h.fail(c, domain.EventInitGameError, err)
			return
		}
		typ := domain.EventGameInitialized
		if already {
			typ = domain.EventGameAlreadyInitialized
		}
		c.push(typ, snap)

	case msgJoinGame:
		var p joinPayload
		if !h.decode(c, in, &p, domain.EventJoinGameError) {
			return
		}
		sessionID := p.SessionID
		if sessionID == "" && p.Pin != "" {
			id, err := h.coordinator.ResolvePin(p.Pin)
			if err != nil {
				h.fail(c, domain.EventJoinGameError, err)
				return
			}
			sessionID = id
		}
		// Subscribe first so the broadcast snapshot of this join reaches the joiner too.
		if err := h.attach(ctx, c, sessionID); err != nil {
			h.fail(c, domain.EventJoinGameError, err)
			return
		}
		participant := domain.Participant{
			ID:          c.identity.ID,
			DisplayName: firstNonEmpty(p.Player.DisplayName, c.identity.Name),
			Avatar:      firstNonEmpty(p.Player.Avatar, c.identity.Avatar),
		}
		if _, err := h.coordinator.Join(ctx, sessionID, participant); err != nil {
			c.detach()
			h.fail(c, domain.EventJoinGameError, err)
		}

	case msgStartGame:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventStartGameError) {
			return
		}
		if _, err := h.coordinator.Start(ctx, p.SessionID, c.identity.ID); err != nil {
			h.fail(c, domain.EventStartGameError, err)
		}

	case msgSubmitAnswer:
		var p answerPayload
		if !h.decode(c, in, &p, domain.EventAnswerError) {
			return
		}
		outcome, err := h.coordinator.SubmitAnswer(ctx, p.SessionID, c.identity.ID, p.submission())
		if err != nil {
			h.fail(c, domain.EventAnswerError, err)
			return
		}
		c.push(domain.EventAnswerSubmitted, outcome)

	case msgEndQuestion:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventError) {
			return
		}
		if _, _, err := h.coordinator.EndQuestion(ctx, p.SessionID); err != nil {
			h.fail(c, domain.EventError, err)
		}

	case msgNextQuestion:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventError) {
			return
		}
		if _, err := h.coordinator.NextQuestion(ctx, p.SessionID, c.identity.ID); err != nil {
			h.fail(c, domain.EventError, err)
		}

	case msgForceEndGame:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventError) {
			return
		}
		if _, err := h.coordinator.ForceEnd(ctx, p.SessionID, c.identity.ID); err != nil {
			h.fail(c, domain.EventError, err)
		}

	case msgGetLeaderboard:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventError) {
			return
		}
		board, err := h.coordinator.Leaderboard(ctx, p.SessionID)
		if err != nil {
			h.fail(c, domain.EventError, err)
			return
		}
		c.push(domain.EventCurrentLeaderboard, leaderboardPayload{Leaderboard: board})

	case msgGetGameState:
		var p sessionPayload
		if !h.decode(c, in, &p, domain.EventError) {
			return
		}
		snap, err := h.coordinator.State(ctx, p.SessionID)
		if err != nil {
			h.fail(c, domain.EventError, err)
			return
		}
		c.push(domain.EventGameUpdate, snap)

	default:
		h.fail(c, domain.EventError, domain.NewError(domain.CodeInvalidArgument, "unsupported message type %q", in.Type))
	}
}

// attach subscribes the connection to a session's broadcasts, replacing any earlier subscription.
func (h *WSHandler) attach(ctx context.Context, c *connection, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID && c.unsubscribe != nil {
		return nil
	}

	updates, cancel, err := h.coordinator.Subscribe(ctx, sessionID)
	if err != nil {
		return err
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.sessionID = sessionID
	c.unsubscribe = cancel

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case c.send <- outboundMessage[any]{Type: event.Type, Payload: event.Payload}:
				case <-c.closing:
					return
				}
			case <-c.closing:
				return
			}
		}
	}()
	return nil
}

// detach drops the current subscription and returns the session it belonged to.
func (c *connection) detach() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	id := c.sessionID
	c.sessionID = ""
	return id
}

func (c *connection) push(typ string, payload any) {
	c.send <- outboundMessage[any]{Type: typ, Payload: payload}
}

func (h *WSHandler) decode(c *connection, in inboundMessage, into any, errType string) bool {
	if err := json.Unmarshal(in.Payload, into); err != nil {
		h.fail(c, errType, domain.Wrap(domain.CodeInvalidArgument, err, "invalid %s payload", in.Type))
		return false
	}
	return true
}

// fail reports an error to the originating connection only.
func (h *WSHandler) fail(c *connection, errType string, err error) {
	code := domain.CodeOf(err)
	msg := err.Error()
	var derr *domain.Error
	if errors.As(err, &derr) {
		msg = derr.Message
	}
	if code == domain.CodeInternal || code == domain.CodeTransientStorage {
		h.logger.Error("request failed", zap.String("participant_id", c.identity.ID), zap.String("reply", errType), zap.Error(err))
	}
	c.push(errType, errorPayload{Code: code, Message: msg})
}

// submission turns the wire payload into a domain submission. answerData is a string for short
// answers or a list of option ids for ordering questions; any other shape is ignored and the
// answer is scored as given, which makes it incorrect.
func (p answerPayload) submission() domain.AnswerSubmission {
	sub := domain.AnswerSubmission{
		Answer:     domain.SelectedAnswer{OptionID: p.AnswerID},
		AnswerTime: -1,
	}
	if p.AnswerTime != nil && !math.IsNaN(*p.AnswerTime) && !math.IsInf(*p.AnswerTime, 0) {
		sub.AnswerTime = *p.AnswerTime
	}
	if len(p.AnswerData) == 0 {
		return sub
	}
	var text string
	if err := json.Unmarshal(p.AnswerData, &text); err == nil {
		sub.Answer.Text = text
		return sub
	}
	var order []string
	if err := json.Unmarshal(p.AnswerData, &order); err == nil {
		sub.Answer.Order = order
	}
	return sub
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
