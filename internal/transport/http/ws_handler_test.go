package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t, NewAuthenticator("", ""))

	host := dial(t, server, "userId=h-1&name=Host")
	send(t, host, "initGame", map[string]any{"sessionId": "s-1"})
	_, payload := readUntil(t, host, domain.EventGameInitialized)
	if payload["pin"] != "123456" {
		t.Fatalf("expected pin in snapshot, got %v", payload["pin"])
	}

	player := dial(t, server, "userId=p-1&name=Ana")
	send(t, player, "joinGame", map[string]any{"pin": "123456", "player": map[string]any{"displayName": "Ana"}})
	readUntil(t, player, domain.EventGameUpdate)

	send(t, host, "startGame", map[string]any{"sessionId": "s-1"})
	_, started := readUntil(t, player, domain.EventGameStarted)
	question, _ := started["currentQuestion"].(map[string]any)
	if question == nil {
		t.Fatalf("expected current question in gameStarted, got %v", started)
	}
	for _, raw := range question["options"].([]any) {
		if _, leaked := raw.(map[string]any)["correct"]; leaked {
			t.Fatalf("expected options without correctness flags, got %v", raw)
		}
	}

	send(t, player, "submitAnswer", map[string]any{"sessionId": "s-1", "answerId": "o2", "answerTime": 5})
	_, outcome := readUntil(t, player, domain.EventAnswerSubmitted)
	if outcome["isCorrect"] != true || outcome["pointsEarned"].(float64) != 875 {
		t.Fatalf("expected correct answer worth 875, got %v", outcome)
	}
	readUntil(t, host, domain.EventPlayerAnswered)

	send(t, player, "submitAnswer", map[string]any{"sessionId": "s-1", "answerId": "o2", "answerTime": 6})
	_, dup := readUntil(t, player, domain.EventAnswerError)
	if dup["code"] != string(domain.CodeAlreadyAnswered) {
		t.Fatalf("expected already_answered, got %v", dup)
	}

	send(t, host, "endQuestion", map[string]any{"sessionId": "s-1"})
	_, ended := readUntil(t, player, domain.EventQuestionEnded)
	if ended["finished"] != true {
		t.Fatalf("expected single-question quiz to finish on end, got %v", ended)
	}
	readUntil(t, player, domain.EventGameFinished)

	send(t, player, "getLeaderboard", map[string]any{"sessionId": "s-1"})
	_, board := readUntil(t, player, domain.EventCurrentLeaderboard)
	entries := board["leaderboard"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["score"].(float64) != 875 {
		t.Fatalf("unexpected leaderboard %v", board)
	}
}

func TestWebSocketForceEndRequiresHost(t *testing.T) {
	server := newTestServer(t, NewAuthenticator("", ""))

	host := dial(t, server, "userId=h-1")
	send(t, host, "initGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, host, domain.EventGameInitialized)

	player := dial(t, server, "userId=p-1&name=Ana")
	send(t, player, "joinGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, player, domain.EventGameUpdate)

	send(t, player, "forceEndGame", map[string]any{"sessionId": "s-1"})
	_, payload := readUntil(t, player, domain.EventError)
	if payload["code"] != string(domain.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", payload)
	}

	send(t, player, "initGame", map[string]any{"sessionId": "s-1"})
	_, payload = readUntil(t, player, domain.EventInitGameError)
	if payload["code"] != string(domain.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for non-host init, got %v", payload)
	}
}

func TestWebSocketRequiresBearerToken(t *testing.T) {
	auth := NewAuthenticator("test-secret", "quiz")
	server := newTestServer(t, auth)

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	token, err := auth.IssueToken(Identity{ID: "h-1", Name: "Host"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()

	send(t, conn, "initGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, conn, domain.EventGameInitialized)
}

func TestRESTViews(t *testing.T) {
	server := newTestServer(t, NewAuthenticator("", ""))

	host := dial(t, server, "userId=h-1")
	send(t, host, "initGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, host, domain.EventGameInitialized)

	resp, err := http.Get(server.URL + "/pins/123456?userId=p-9")
	if err != nil {
		t.Fatalf("get pin: %v", err)
	}
	defer resp.Body.Close()
	var body sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body.SessionID != "s-1" {
		t.Fatalf("expected pin to resolve to s-1, got %d %+v", resp.StatusCode, body)
	}

	missing, err := http.Get(server.URL + "/sessions/nope?userId=p-9")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", missing.StatusCode)
	}

	health, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz ok, got %d", health.StatusCode)
	}
}

func TestSubmissionDecoding(t *testing.T) {
	text := answerPayload{AnswerData: json.RawMessage(`" Paris "`)}.submission()
	if text.Answer.Text != " Paris " || text.AnswerTime != -1 {
		t.Fatalf("expected text answer with unknown time, got %+v", text)
	}
	order := answerPayload{AnswerData: json.RawMessage(`["b","a"]`)}.submission()
	if len(order.Answer.Order) != 2 || order.Answer.Order[0] != "b" {
		t.Fatalf("expected ordering answer, got %+v", order)
	}
	for _, raw := range []string{`42`, `{"x":1}`, `true`, `null`} {
		sub := answerPayload{AnswerData: json.RawMessage(raw)}.submission()
		if sub.Answer.OptionID != "" || sub.Answer.Text != "" || len(sub.Answer.Order) != 0 {
			t.Fatalf("expected %s to decode to an empty answer, got %+v", raw, sub)
		}
	}
}

func TestUnrecognizedAnswerShapeScoresIncorrect(t *testing.T) {
	server := newTestServer(t, NewAuthenticator("", ""))
	host := dial(t, server, "userId=h-1")
	player := dial(t, server, "userId=p-1&name=Ana")

	send(t, host, "initGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, host, domain.EventGameInitialized)
	send(t, player, "joinGame", map[string]any{"sessionId": "s-1", "player": map[string]any{"displayName": "Ana"}})
	readUntil(t, player, domain.EventGameUpdate)
	send(t, host, "startGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, player, domain.EventGameStarted)

	send(t, player, "submitAnswer", map[string]any{"sessionId": "s-1", "answerData": 42, "answerTime": 3})
	_, outcome := readUntil(t, player, domain.EventAnswerSubmitted)
	if outcome["isCorrect"] != false || outcome["pointsEarned"] != float64(0) {
		t.Fatalf("expected an incorrect zero-point answer, got %v", outcome)
	}

	send(t, player, "submitAnswer", map[string]any{"sessionId": "s-1", "answerId": "o2", "answerTime": 4})
	_, failure := readUntil(t, player, domain.EventAnswerError)
	if failure["code"] != string(domain.CodeAlreadyAnswered) {
		t.Fatalf("expected already answered on resubmit, got %v", failure)
	}
}

func TestCloseDisconnectsOpenSockets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	catalog := memory.NewStaticCatalog(sampleQuiz())
	catalog.AddSession(domain.SessionRecord{ID: "s-1", HostID: "h-1", QuizID: "quiz-1", Pin: "123456"})
	coordinator := app.NewCoordinator(memory.NewSessionStore(), catalog, memory.NewQuizRepository(catalog, time.Minute))
	auth := NewAuthenticator("", "")
	ws := NewWSHandler(coordinator, auth, nil, nil)
	server := httptest.NewServer(NewRouter(RouterConfig{Coordinator: coordinator, WS: ws, Auth: auth, Gatherer: prometheus.NewRegistry()}))
	t.Cleanup(server.Close)

	host := dial(t, server, "userId=h-1")
	send(t, host, "initGame", map[string]any{"sessionId": "s-1"})
	readUntil(t, host, domain.EventGameInitialized)
	player := dial(t, server, "userId=p-1")
	send(t, player, "joinGame", map[string]any{"sessionId": "s-1", "player": map[string]any{"displayName": "Ana"}})
	readUntil(t, player, domain.EventGameUpdate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	state, err := coordinator.State(ctx, "s-1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Session.HostConnected || state.Session.Players[0].Connected {
		t.Fatalf("expected every participant disconnected once close returns, got %+v", state.Session)
	}

	_ = player.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := player.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Fatalf("expected going-away close, got %v", err)
			}
			break
		}
	}

	late := dial(t, server, "userId=p-2")
	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected sockets opened after close to be refused, got %v", err)
	}
}

func newTestServer(t *testing.T, auth *Authenticator) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := memory.NewStaticCatalog(sampleQuiz())
	catalog.AddSession(domain.SessionRecord{ID: "s-1", HostID: "h-1", QuizID: "quiz-1", Pin: "123456"})
	coordinator := app.NewCoordinator(memory.NewSessionStore(), catalog, memory.NewQuizRepository(catalog, time.Minute))

	router := NewRouter(RouterConfig{
		Coordinator: coordinator,
		WS:          NewWSHandler(coordinator, auth, nil, nil),
		Auth:        auth,
		Gatherer:    prometheus.NewRegistry(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips messages until one of the expected type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) (string, map[string]any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Type, msg.Payload
		}
	}
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionMultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					TimeLimit: 20,
					Points:    1000,
				},
			},
		},
	}
}
