package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

const maxBodySize = 1 << 20

// API serves session authoring and public snapshots.
type API struct {
	coord         *app.Coordinator
	questions     app.QuestionSource
	defaultAmount int
	logger        *slog.Logger
}

func NewAPI(coord *app.Coordinator, questions app.QuestionSource, defaultAmount int, logger *slog.Logger) *API {
	if defaultAmount <= 0 {
		defaultAmount = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{coord: coord, questions: questions, defaultAmount: defaultAmount, logger: logger}
}

type questionInput struct {
	Content          string   `json:"content"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
	TimeLimit        int      `json:"time_limit"`
	Points           int      `json:"points"`
}

type createSessionRequest struct {
	Title     string          `json:"title"`
	Questions []questionInput `json:"questions"`
	Category  string          `json:"category"`
	Amount    int             `json:"amount"`
}

type createSessionResponse struct {
	Pin    string `json:"pin"`
	HostID string `json:"host_id"`
	Total  int    `json:"total"`
}

type registerPlayerRequest struct {
	Nickname string `json:"nickname"`
}

type registerPlayerResponse struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Token         string `json:"token"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateSession authors a session from the body's questions or, without any, from the question source.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := readJSON(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	questions := make([]domain.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, domain.Question{
			Content:          q.Content,
			CorrectAnswer:    q.CorrectAnswer,
			IncorrectAnswers: q.IncorrectAnswers,
			TimeLimit:        q.TimeLimit,
			Points:           q.Points,
		})
	}
	if len(questions) == 0 {
		if req.Category == "" || a.questions == nil {
			a.writeError(w, fmt.Errorf("%w: questions or category required", domain.ErrInvalidPayload))
			return
		}
		amount := req.Amount
		if amount <= 0 {
			amount = a.defaultAmount
		}
		fetched, err := a.questions.FetchQuestions(r.Context(), req.Category, amount)
		if err != nil {
			a.writeError(w, err)
			return
		}
		questions = fetched
	}

	session, err := a.coord.CreateSession(r.Context(), req.Title, questions)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Pin: session.Pin, HostID: session.HostID, Total: len(questions)})
}

// RegisterPlayer issues a participant identity while the session is in the lobby.
func (a *API) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req registerPlayerRequest
	if err := readJSON(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	reg, err := a.coord.RegisterPlayer(r.Context(), chi.URLParam(r, "pin"), req.Nickname)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerPlayerResponse{
		ParticipantID: reg.Participant.ID,
		Nickname:      reg.Participant.Nickname,
		Token:         reg.Token,
	})
}

// GetStats returns the accuracy report. The host id is presented as a bearer token.
func (a *API) GetStats(w http.ResponseWriter, r *http.Request) {
	report, err := a.coord.Stats(r.Context(), chi.URLParam(r, "pin"), bearer(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// GetSession returns the public snapshot of a session.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.coord.Snapshot(r.Context(), chi.URLParam(r, "pin"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrNoMoreQuestions),
		errors.Is(err, domain.ErrIdentityConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransientIO):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Code: domain.Code(err), Message: err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
