package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

func TestLeaderboardBreaksTiesByJoinOrder(t *testing.T) {
	participants := []domain.Participant{
		{ID: "a", Nickname: "Alice", Score: 750, Streak: 1, JoinOrder: 1},
		{ID: "c", Nickname: "Carol", Score: 900, Streak: 1, JoinOrder: 2},
		{ID: "b", Nickname: "Bob", Score: 750, Streak: 1, JoinOrder: 0},
	}

	board := domain.Leaderboard(participants)
	ids := make([]string, 0, len(board))
	for _, e := range board {
		ids = append(ids, e.ParticipantID)
	}
	require.Equal(t, []string{"c", "b", "a"}, ids)
	require.Equal(t, "a", participants[0].ID, "input order is left alone")
}

func TestStoredModelsUseSnakeCaseKeys(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]struct {
		value any
		keys  []string
	}{
		"session": {
			value: domain.Session{Pin: "123456", HostID: "h", StartedAt: &now, EndedAt: &now, CurrentQuestionStartedAt: &now},
			keys:  []string{"host_id", "current_question_index", "current_question_started_at", "started_at", "ended_at", "created_at"},
		},
		"question": {
			value: domain.Question{ID: "q1", CorrectAnswer: "Paris"},
			keys:  []string{"correct_answer", "incorrect_answers", "time_limit"},
		},
		"participant": {
			value: domain.Participant{ID: "p1"},
			keys:  []string{"join_order", "joined_at"},
		},
		"answer": {
			value: domain.AnswerRecord{ParticipantID: "p1", QuestionID: "q1"},
			keys:  []string{"participant_id", "question_id", "response_time", "submitted_at"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(tc.value)
			require.NoError(t, err)
			var fields map[string]any
			require.NoError(t, json.Unmarshal(raw, &fields))
			for _, key := range tc.keys {
				require.Contains(t, fields, key)
			}
		})
	}
}
