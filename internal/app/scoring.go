package app

import (
	"math"

	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

// Points awards base points decayed linearly over the time limit.
// A response at or beyond the limit earns zero, never a negative value.
func Points(base, timeLimit int, responseTime float64) int {
	if base <= 0 || timeLimit <= 0 {
		return 0
	}
	if math.IsNaN(responseTime) || responseTime < 0 {
		responseTime = 0
	}
	limit := float64(timeLimit)
	factor := math.Max(0, (limit-responseTime)/limit)
	return int(math.Floor(float64(base) * factor))
}

// Outcome is the scored result of one submission.
type Outcome struct {
	Correct bool
	Points  int
}

// Score compares the submitted text with the correct answer and computes the award.
func Score(q domain.Question, answer string, responseTime float64) Outcome {
	q = q.Normalized()
	if answer != q.CorrectAnswer {
		return Outcome{}
	}
	return Outcome{Correct: true, Points: Points(q.Points, q.TimeLimit, responseTime)}
}

// Apply updates score and streak: a correct answer extends the streak, anything else resets it.
func (o Outcome) Apply(p domain.Participant) domain.Participant {
	if o.Correct {
		p.Streak++
		p.Score += o.Points
		return p
	}
	p.Streak = 0
	return p
}
