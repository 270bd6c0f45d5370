package cli

import (
	"errors"
	"testing"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line      string
		question  string
		wantType  string
		wantValue any
	}{
		{"start", "", domain.EventStartSession, domain.PinRequest{Pin: "123456"}},
		{"next", "", domain.EventAdvanceQuestion, domain.PinRequest{Pin: "123456"}},
		{"reveal", "q1", domain.EventRevealQuestion, domain.RevealRequest{Pin: "123456", QuestionID: "q1"}},
		{"answer Paris", "q1", domain.EventSubmitAnswer, domain.SubmitRequest{QuestionID: "q1", Answer: "Paris"}},
		{"answer New York @4.5", "q2", domain.EventSubmitAnswer, domain.SubmitRequest{QuestionID: "q2", Answer: "New York", ResponseTime: 4.5}},
		{"board", "", domain.EventRequestLeaderboard, domain.PinRequest{Pin: "123456"}},
		{"end", "", domain.EventEndSession, domain.PinRequest{Pin: "123456"}},
	}
	for _, tc := range cases {
		gotType, gotValue, err := parseCommand(tc.line, "123456", tc.question)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.line, err)
		}
		if gotType != tc.wantType || gotValue != tc.wantValue {
			t.Fatalf("%q: got %s %+v, want %s %+v", tc.line, gotType, gotValue, tc.wantType, tc.wantValue)
		}
	}
}

func TestParseCommandRejects(t *testing.T) {
	if _, _, err := parseCommand("answer Paris", "123456", ""); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected answer without a live question to fail, got %v", err)
	}
	if _, _, err := parseCommand("dance", "123456", "q1"); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("expected unknown command, got %v", err)
	}
}
