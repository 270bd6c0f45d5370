package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"github.com/PoliTwit1984/kentrivia/internal/infra/memory"
)

func TestWebSocketQuestionFlow(t *testing.T) {
	server, _ := newTestServer(t)
	created := createSession(t, server.URL)

	host := dial(t, server.URL)
	send(t, host, domain.EventJoin, domain.JoinRequest{Pin: created.Pin, Role: domain.RoleHost, HostID: created.HostID})
	readUntil(t, host, domain.EventJoined)

	player := dial(t, server.URL)
	send(t, player, domain.EventJoin, domain.JoinRequest{Pin: created.Pin, Nickname: "Alice"})
	joined := readUntil(t, player, domain.EventJoined)
	if joined["participant_id"] == "" || joined["is_ready"] != true {
		t.Fatalf("unexpected join ack: %+v", joined)
	}
	readUntil(t, host, domain.EventAllReady)

	send(t, host, domain.EventStartSession, nil)
	readUntil(t, player, domain.EventSessionStarted)
	send(t, host, domain.EventAdvanceQuestion, domain.PinRequest{Pin: created.Pin})
	live := readUntil(t, player, domain.EventQuestionLive)
	question, _ := live["question"].(map[string]any)
	if _, leaked := question["correct_answer"]; leaked {
		t.Fatalf("public question must not carry the correct answer: %+v", question)
	}
	qid, _ := question["id"].(string)

	send(t, player, domain.EventSubmitAnswer, domain.SubmitRequest{QuestionID: qid, Answer: "4", ResponseTime: 5})
	result := readUntil(t, player, domain.EventAnswerResult)
	if result["is_correct"] != true || result["new_score"] != float64(750) {
		t.Fatalf("unexpected answer result: %+v", result)
	}

	send(t, player, domain.EventSubmitAnswer, domain.SubmitRequest{QuestionID: qid, Answer: "4", ResponseTime: 6})
	rejected := readUntil(t, player, domain.EventError)
	if rejected["code"] != "duplicate_submission" {
		t.Fatalf("expected duplicate_submission, got %+v", rejected)
	}

	send(t, host, domain.EventRevealQuestion, domain.RevealRequest{Pin: created.Pin, QuestionID: qid})
	ended := readUntil(t, player, domain.EventQuestionEnded)
	if ended["correct_answer"] != "4" {
		t.Fatalf("expected correct answer 4, got %+v", ended)
	}
	if answers, _ := ended["answers"].([]any); len(answers) != 1 {
		t.Fatalf("expected one revealed answer, got %+v", ended["answers"])
	}
}

func TestWebSocketRejectsPlayerHostActions(t *testing.T) {
	server, _ := newTestServer(t)
	created := createSession(t, server.URL)

	player := dial(t, server.URL)
	send(t, player, domain.EventJoin, domain.JoinRequest{Pin: created.Pin, Nickname: "Mallory"})
	readUntil(t, player, domain.EventJoined)

	send(t, player, domain.EventStartSession, nil)
	errPayload := readUntil(t, player, domain.EventError)
	if errPayload["code"] != "unauthorized" || errPayload["event"] != domain.EventStartSession {
		t.Fatalf("expected unauthorized start, got %+v", errPayload)
	}

	send(t, player, "shuffle_deck", nil)
	errPayload = readUntil(t, player, domain.EventError)
	if errPayload["code"] != "invalid_payload" {
		t.Fatalf("expected invalid_payload, got %+v", errPayload)
	}

	send(t, player, domain.EventPing, nil)
	readUntil(t, player, domain.EventPong)
}

func TestForcedReconnectClosesWithServiceRestart(t *testing.T) {
	server, coord := newTestServer(t)
	created := createSession(t, server.URL)

	player := dial(t, server.URL)
	send(t, player, domain.EventJoin, domain.JoinRequest{Pin: created.Pin, Nickname: "Alice"})
	readUntil(t, player, domain.EventJoined)

	entries := coord.Registry().Snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected one registered connection, got %d", len(entries))
	}
	entries[0].Conn.ForceReconnect()

	readUntil(t, player, domain.EventForcedReconnect)
	_ = player.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := player.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseServiceRestart {
		t.Fatalf("expected service restart close, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for coord.Registry().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/sessions", map[string]any{"title": "no", "category": "math"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for short title, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/sessions", map[string]any{"title": "Math sprint", "category": "math", "amount": 1})
	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.Total != 1 || len(created.Pin) != 6 {
		t.Fatalf("unexpected create response %d %+v", resp.StatusCode, created)
	}

	resp = postJSON(t, server.URL+"/sessions/"+created.Pin+"/players", map[string]any{"nickname": "Bob"})
	var registered registerPlayerResponse
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || registered.ParticipantID == "" || registered.Token == "" {
		t.Fatalf("unexpected register response %d %+v", resp.StatusCode, registered)
	}

	resp, err = http.Get(server.URL + "/sessions/" + created.Pin)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var snap domain.SnapshotPayload
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if snap.Phase != domain.PhaseLobby || snap.Total != 1 || len(snap.Leaderboard) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	resp, err = http.Get(server.URL + "/sessions/000000")
	if err != nil {
		t.Fatalf("get missing session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStatsEndpointRequiresHostID(t *testing.T) {
	server, _ := newTestServer(t)
	created := createSession(t, server.URL)
	statsURL := server.URL + "/sessions/" + created.Pin + "/stats"

	for name, auth := range map[string]string{
		"missing": "",
		"wrong":   "Bearer not-the-host",
		"scheme":  "Basic " + created.HostID,
	} {
		req, _ := http.NewRequest(http.MethodGet, statsURL, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: get stats: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", name, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, statsURL, nil)
	req.Header.Set("Authorization", "Bearer "+created.HostID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report domain.StatsPayload
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if report.Game.Title != "Arithmetic" || report.Game.TotalQuestions != 1 || report.Game.StartedAt != nil {
		t.Fatalf("unexpected game stats %+v", report.Game)
	}
	if len(report.Questions) != 1 || report.Questions[0].CorrectAnswer != "4" || report.Questions[0].Accuracy != 0 {
		t.Fatalf("unexpected question stats %+v", report.Questions)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Coordinator) {
	t.Helper()
	coord := app.NewCoordinator(memory.NewStore(), app.Options{LiveDelay: 20 * time.Millisecond})
	bank := memory.NewStaticQuestionBank(map[string][]domain.Question{
		"math": {{ID: "q1", Content: "What is 2 + 2?", CorrectAnswer: "4", IncorrectAnswers: []string{"3", "5", "22"}}},
	})
	api := NewAPI(coord, bank, 10, nil)
	server := httptest.NewServer(NewRouter(api, NewWSHandler(coord, 0, nil)))
	t.Cleanup(func() {
		server.Close()
		coord.Close()
	})
	return server, coord
}

func createSession(t *testing.T, baseURL string) createSessionResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/sessions", map[string]any{
		"title": "Arithmetic",
		"questions": []map[string]any{
			{"content": "What is 2 + 2?", "correct_answer": "4", "incorrect_answers": []string{"3", "5"}, "time_limit": 20, "points": 1000},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return created
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func dial(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(domain.Event{Type: eventType, Payload: payload}); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

// readUntil skips other events until one of the expected type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Payload
		}
	}
	t.Fatalf("no %s event within 50 messages", expect)
	return nil
}
