package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PoliTwit1984/kentrivia/internal/client"
	"github.com/PoliTwit1984/kentrivia/internal/config"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"github.com/PoliTwit1984/kentrivia/internal/logging"
)

var errUnknownCommand = errors.New("unknown command")

// NewPlayCmd joins a session from the terminal through the reconnecting client agent.
func NewPlayCmd(configPath *string) *cobra.Command {
	var (
		url           string
		join          domain.JoinRequest
		host          bool
		maxAttempts   int
		retryInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a session as a player or host from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if join.Pin == "" {
				return fmt.Errorf("%w: --pin is required", domain.ErrInvalidPayload)
			}
			join.Role = domain.RolePlayer
			if host {
				join.Role = domain.RoleHost
			}
			logger := logging.NewWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p := &player{out: cmd.OutOrStdout(), pin: join.Pin}
			agent := client.New(client.Config{
				URL:             url,
				Join:            join,
				InitialInterval: retryInterval,
				MaxAttempts:     maxAttempts,
				Logger:          logger,
				OnEvent:         p.show,
				OnState: func(s client.State) {
					p.printf("[%s]\n", s)
				},
			})
			p.agent = agent

			done := make(chan error, 1)
			go func() { done <- agent.Run(ctx) }()
			go p.readCommands(ctx, cmd.InOrStdin(), stop)
			return <-done
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "websocket endpoint")
	cmd.Flags().StringVar(&join.Pin, "pin", "", "session pin")
	cmd.Flags().StringVar(&join.Nickname, "nickname", "", "nickname for a new player")
	cmd.Flags().StringVar(&join.ParticipantID, "participant", "", "participant id issued at registration")
	cmd.Flags().StringVar(&join.Token, "token", "", "token issued with the participant id")
	cmd.Flags().BoolVar(&host, "host", false, "join as the session host")
	cmd.Flags().StringVar(&join.HostID, "host-id", "", "host id returned when the session was created")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", client.DefaultMaxAttempts, "connection attempts before giving up")
	cmd.Flags().DurationVar(&retryInterval, "retry-interval", client.DefaultInitialInterval, "initial reconnect delay")
	return cmd
}

type player struct {
	agent *client.Agent
	out   io.Writer
	pin   string

	mu       sync.Mutex
	question string
}

func (p *player) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *player) currentQuestion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.question
}

func (p *player) show(ev domain.InboundEvent) {
	switch ev.Type {
	case domain.EventQuestionPreparing, domain.EventQuestionLive:
		var payload domain.QuestionPayload
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			p.mu.Lock()
			p.question = payload.Question.ID
			p.mu.Unlock()
			if ev.Type == domain.EventQuestionLive {
				p.printf("Q%d/%d (%ds): %s\n", payload.Index+1, payload.Total, payload.Question.TimeLimit, payload.Question.Content)
				for i, answer := range payload.Question.Answers {
					p.printf("  %d) %s\n", i+1, answer)
				}
				return
			}
		}
	case domain.EventPong:
		return
	}
	p.printf("%s %s\n", ev.Type, string(ev.Payload))
}

func (p *player) readCommands(ctx context.Context, in io.Reader, stop context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			stop()
			return
		}
		eventType, payload, err := parseCommand(line, p.pin, p.currentQuestion())
		if err != nil {
			p.printf("%v\n", err)
			continue
		}
		if err := p.agent.Send(eventType, payload); err != nil {
			p.printf("send failed: %v\n", err)
		}
	}
}

// parseCommand turns one terminal line into an outbound event.
func parseCommand(line, pin, questionID string) (string, any, error) {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "start":
		return domain.EventStartSession, domain.PinRequest{Pin: pin}, nil
	case "next":
		return domain.EventAdvanceQuestion, domain.PinRequest{Pin: pin}, nil
	case "reveal":
		return domain.EventRevealQuestion, domain.RevealRequest{Pin: pin, QuestionID: questionID}, nil
	case "board":
		return domain.EventRequestLeaderboard, domain.PinRequest{Pin: pin}, nil
	case "end":
		return domain.EventEndSession, domain.PinRequest{Pin: pin}, nil
	case "ping":
		return domain.EventPing, nil, nil
	case "answer":
		if rest == "" || questionID == "" {
			return "", nil, fmt.Errorf("%w: answer needs a live question and a value", domain.ErrInvalidPayload)
		}
		answer, seconds := rest, 0.0
		if head, tail, ok := strings.Cut(rest, " @"); ok {
			if v, err := strconv.ParseFloat(strings.TrimSpace(tail), 64); err == nil {
				answer, seconds = head, v
			}
		}
		return domain.EventSubmitAnswer, domain.SubmitRequest{QuestionID: questionID, Answer: answer, ResponseTime: seconds}, nil
	default:
		return "", nil, fmt.Errorf("%w %q (start, next, answer <text> [@seconds], reveal, board, end, ping, quit)", errUnknownCommand, verb)
	}
}
