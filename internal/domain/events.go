package domain

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoin               = "join"
	EventStartSession       = "start_session"
	EventAdvanceQuestion    = "advance_question"
	EventSubmitAnswer       = "submit_answer"
	EventRevealQuestion     = "reveal_question"
	EventRequestLeaderboard = "request_leaderboard"
	EventEndSession         = "end_session"
	EventPing               = "ping"
)

// Outbound event names.
const (
	EventJoined            = "joined"
	EventMembershipChanged = "room_membership_changed"
	EventPlayerReady       = "player_ready"
	EventAllReady          = "all_ready"
	EventSessionStarted    = "session_started"
	EventQuestionPreparing = "question_preparing"
	EventQuestionLive      = "question_live"
	EventAnswerResult      = "answer_result"
	EventAnswerBroadcast   = "answer_broadcast"
	EventQuestionEnded     = "question_ended"
	EventLeaderboardUpdate = "leaderboard_update"
	EventSessionCompleted  = "session_completed"
	EventSessionSnapshot   = "session_snapshot"
	EventForcedReconnect   = "forced_reconnect"
	EventPong              = "pong"
	EventError             = "error"
)

// Event is the envelope exchanged over the transport.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InboundEvent is an event read from a client before its payload is decoded.
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinRequest binds a connection to a session identity.
// Hosts present HostID; players present ParticipantID with its Token, or Nickname to be issued one.
type JoinRequest struct {
	Pin           string `json:"pin"`
	Role          Role   `json:"role"`
	HostID        string `json:"host_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Token         string `json:"token,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Rejoin        bool   `json:"rejoin"`
}

// PinRequest carries the pin for host actions.
type PinRequest struct {
	Pin string `json:"pin"`
}

// SubmitRequest is a player's answer.
type SubmitRequest struct {
	QuestionID   string  `json:"question_id"`
	Answer       string  `json:"answer"`
	ResponseTime float64 `json:"response_time"`
}

// RevealRequest ends the answer window for a question.
type RevealRequest struct {
	Pin        string `json:"pin"`
	QuestionID string `json:"question_id"`
}

// JoinAck acknowledges a join or rejoin. RejoinToken is only sent to the player it belongs to.
type JoinAck struct {
	ParticipantID string `json:"participant_id"`
	RejoinToken   string `json:"rejoin_token,omitempty"`
	Role          Role   `json:"role"`
	Nickname      string `json:"nickname,omitempty"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
	IsReady       bool   `json:"is_ready"`
	IsRejoin      bool   `json:"is_rejoin"`
}

// ConnectedParticipant is one roster line.
type ConnectedParticipant struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname,omitempty"`
	Role          Role   `json:"role"`
	Score         int    `json:"score"`
	IsReady       bool   `json:"is_ready"`
}

// MembershipPayload is the room roster.
type MembershipPayload struct {
	ConnectedParticipants []ConnectedParticipant `json:"connected_participants"`
}

// PlayerReadyPayload announces a player turned ready.
type PlayerReadyPayload struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
}

// SessionStartedPayload acknowledges lobby -> active.
type SessionStartedPayload struct {
	StartedAt            time.Time `json:"started_at"`
	TotalQuestions       int       `json:"total_questions"`
	CurrentQuestionIndex int       `json:"current_question_index"`
}

// QuestionPayload announces the upcoming or live question.
type QuestionPayload struct {
	Question  PublicQuestion `json:"question"`
	Total     int            `json:"total"`
	Index     int            `json:"index"`
	StartedAt time.Time      `json:"started_at"`
}

// AnswerResult is sent to the submitter only.
type AnswerResult struct {
	QuestionID    string `json:"question_id"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	PointsAwarded int    `json:"points_awarded"`
	NewScore      int    `json:"new_score"`
	NewStreak     int    `json:"new_streak"`
}

// AnswerBroadcast is sent to the room after each accepted answer.
type AnswerBroadcast struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	IsCorrect     bool   `json:"is_correct"`
	PointsAwarded int    `json:"points_awarded"`
	NewScore      int    `json:"new_score"`
	NewStreak     int    `json:"new_streak"`
}

// RevealedAnswer is one line of a question's aggregate.
type RevealedAnswer struct {
	ParticipantID string  `json:"participant_id"`
	Nickname      string  `json:"nickname"`
	Answer        string  `json:"answer"`
	IsCorrect     bool    `json:"is_correct"`
	PointsAwarded int     `json:"points_awarded"`
	ResponseTime  float64 `json:"response_time"`
}

// QuestionEndedPayload reveals the correct answer and every record.
type QuestionEndedPayload struct {
	QuestionID    string           `json:"question_id"`
	CorrectAnswer string           `json:"correct_answer"`
	Answers       []RevealedAnswer `json:"answers"`
}

// LeaderboardPayload is the ordered scoreboard.
type LeaderboardPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// SessionCompletedPayload carries the authoritative final scores.
type SessionCompletedPayload struct {
	EndedAt     time.Time          `json:"ended_at"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// SnapshotPayload resynchronises a rejoining client.
type SnapshotPayload struct {
	Pin                      string             `json:"pin"`
	Title                    string             `json:"title"`
	Phase                    Phase              `json:"phase"`
	CurrentQuestionIndex     int                `json:"current_question_index"`
	Total                    int                `json:"total"`
	CurrentQuestionStartedAt *time.Time         `json:"current_question_started_at,omitempty"`
	Leaderboard              []LeaderboardEntry `json:"leaderboard"`
}

// PlayerStats is one player's line in the host report.
type PlayerStats struct {
	ParticipantID  string  `json:"participant_id"`
	Nickname       string  `json:"nickname"`
	Score          int     `json:"score"`
	CorrectAnswers int     `json:"correct_answers"`
	Accuracy       float64 `json:"accuracy"`
}

// QuestionStats aggregates the answers given to one question.
type QuestionStats struct {
	QuestionID     string  `json:"question_id"`
	Content        string  `json:"content"`
	CorrectAnswer  string  `json:"correct_answer"`
	TotalAnswers   int     `json:"total_answers"`
	CorrectAnswers int     `json:"correct_answers"`
	Accuracy       float64 `json:"accuracy"`
}

// GameStats summarises the session itself.
type GameStats struct {
	Title          string     `json:"title"`
	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	TotalPlayers   int        `json:"total_players"`
	TotalQuestions int        `json:"total_questions"`
}

// StatsPayload is the host-only report of a session.
type StatsPayload struct {
	Game      GameStats       `json:"game"`
	Players   []PlayerStats   `json:"players"`
	Questions []QuestionStats `json:"questions"`
}

// ErrorPayload reports a rejected event to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
