package domain

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"
	"time"
)

const (
	// DefaultTimeLimit applies when a question is authored without a time limit (seconds).
	DefaultTimeLimit = 20
	// DefaultPoints applies when a question is authored without a base point value.
	DefaultPoints = 1000
)

// PinAttempts bounds how many random pins a store tries before giving up.
const PinAttempts = 32

// RandomPin draws a 6-digit pin without a leading zero.
func RandomPin(rnd *rand.Rand) string {
	return strconv.Itoa(100000 + rnd.Intn(900000))
}

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseActive    Phase = "active"
	PhasePreparing Phase = "preparing"
	PhaseLive      Phase = "live"
	PhaseEnded     Phase = "ended"
	PhaseCompleted Phase = "completed"
)

// Role is the identity a connection is bound to.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Session is one run of a trivia match identified by its pin.
type Session struct {
	Pin                      string     `json:"pin"`
	Title                    string     `json:"title"`
	HostID                   string     `json:"host_id"`
	Phase                    Phase      `json:"phase"`
	CurrentQuestionIndex     int        `json:"current_question_index"`
	CurrentQuestionStartedAt *time.Time `json:"current_question_started_at,omitempty"`
	StartedAt                *time.Time `json:"started_at,omitempty"`
	EndedAt                  *time.Time `json:"ended_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

// NewSession returns a session in the lobby with no question shown yet.
func NewSession(pin, title, hostID string, now time.Time) Session {
	return Session{
		Pin:                  pin,
		Title:                title,
		HostID:               hostID,
		Phase:                PhaseLobby,
		CurrentQuestionIndex: -1,
		CreatedAt:            now,
	}
}

// Question models a multiple choice question with exactly one correct answer.
type Question struct {
	ID               string   `json:"id"`
	Position         int      `json:"position"`
	Content          string   `json:"content"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
	TimeLimit        int      `json:"time_limit"` // seconds, defaults to 20 if zero
	Points           int      `json:"points"`    // defaults to 1000 if zero
}

// Normalized fills in the default time limit and point value.
func (q Question) Normalized() Question {
	if q.TimeLimit <= 0 {
		q.TimeLimit = DefaultTimeLimit
	}
	if q.Points <= 0 {
		q.Points = DefaultPoints
	}
	return q
}

// PublicQuestion is what players see: no correct-answer field.
type PublicQuestion struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Answers   []string `json:"answers"`
	TimeLimit int      `json:"time_limit"`
	Points    int      `json:"points"`
}

// Public strips the correct answer. Candidate answers are shuffled with a seed
// derived from the question id so every client renders the same order.
func (q Question) Public() PublicQuestion {
	q = q.Normalized()
	answers := make([]string, 0, len(q.IncorrectAnswers)+1)
	answers = append(answers, q.CorrectAnswer)
	answers = append(answers, q.IncorrectAnswers...)

	h := fnv.New64a()
	_, _ = h.Write([]byte(q.ID))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))
	rnd.Shuffle(len(answers), func(i, j int) { answers[i], answers[j] = answers[j], answers[i] })

	return PublicQuestion{
		ID:        q.ID,
		Content:   q.Content,
		Answers:   answers,
		TimeLimit: q.TimeLimit,
		Points:    q.Points,
	}
}

// Participant is a player bound to a session. Score and streak survive reconnects.
type Participant struct {
	ID        string    `json:"id"`
	Pin       string    `json:"pin"`
	Nickname  string    `json:"nickname"`
	Score     int       `json:"score"`
	Streak    int       `json:"streak"`
	Ready     bool      `json:"ready"`
	JoinOrder int       `json:"join_order"`
	JoinedAt  time.Time `json:"joined_at"`
}

// AnswerRecord is the single scored submission of a participant for a question.
type AnswerRecord struct {
	Pin           string    `json:"pin"`
	ParticipantID string    `json:"participant_id"`
	QuestionID    string    `json:"question_id"`
	Answer        string    `json:"answer"`
	Correct       bool      `json:"correct"`
	ResponseTime  float64   `json:"response_time"`
	Points        int       `json:"points"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
}

// Leaderboard orders participants by score descending; ties go to whoever joined first.
func Leaderboard(participants []Participant) []LeaderboardEntry {
	sorted := make([]Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].JoinOrder != sorted[j].JoinOrder {
			return sorted[i].JoinOrder < sorted[j].JoinOrder
		}
		return sorted[i].ID < sorted[j].ID
	})

	entries := make([]LeaderboardEntry, 0, len(sorted))
	for _, p := range sorted {
		entries = append(entries, LeaderboardEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
			Streak:        p.Streak,
		})
	}
	return entries
}
