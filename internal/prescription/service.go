// Package prescription turns a day's profit or loss into a mood label, an
// exercise prescription and a piece of unsolicited advice. The pipeline is
// ROI, tier, prompt, one model call, then a parser that never fails.
package prescription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
)

// Gateway is the model call the service depends on. *llm.Client satisfies it.
type Gateway interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Request is one prescription call. Everything the call needs travels here;
// the service keeps no per-user state.
type Request struct {
	ID         string // optional, echoed in events and logs
	UserID     string // optional, routes lifecycle events to that user only
	Amount     decimal.Decimal
	Principal  decimal.Decimal
	Exercises  []string
	Model      string
	Credential string
}

// Result is built once per successful call and never mutated.
type Result struct {
	ID           string          `json:"id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Principal    decimal.Decimal `json:"principal"`
	ROIPercent   decimal.Decimal `json:"roi"`
	Tier         Tier            `json:"tier"`
	TierLabel    string          `json:"tier_label"`
	Mood         string          `json:"mood"`
	ExerciseText string          `json:"exercise"`
	Advice       string          `json:"advice"`
	RawModelText string          `json:"full"`
	Model        string          `json:"model"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("prescription: invalid request")

// ValidationError reports bad caller input. It is raised before any
// network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// State is the lifecycle of a single Generate call.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Event is emitted on each state change.
type Event struct {
	RequestID string    `json:"request_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	State     State     `json:"state"`
	Tier      string    `json:"tier,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Options configures a Service.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	DefaultPool []string
	Policy      *Policy
	Parser      *Parser
	Observer    Observer
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// Service is stateless and safe for concurrent use.
type Service struct {
	gw   Gateway
	opts Options
	log  logrus.FieldLogger
}

// NewService wires a gateway with options; zero fields get defaults.
func NewService(gw Gateway, opts Options) *Service {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Policy.Strategy == nil {
		opts.Policy.Strategy = ModelStrategy{}
	}
	if opts.Parser == nil {
		opts.Parser = defaultParser
	}
	if len(opts.DefaultPool) == 0 {
		opts.DefaultPool = config.DefaultExercises
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{gw: gw, opts: opts, log: log.WithField("component", "prescription")}
}

// NewServiceFromConfig builds a Service from application config.
func NewServiceFromConfig(gw Gateway, cfg *config.Config, log logrus.FieldLogger, obs Observer) (*Service, error) {
	pc := cfg.Prescription
	strategy, err := StrategyByName(pc.Strategy, pc.BaseReps)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(pc.Thresholds, strategy)
	if err != nil {
		return nil, err
	}
	if pc.PromptFile != "" {
		data, err := os.ReadFile(pc.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("prescription: read prompt file: %w", err)
		}
		policy.Instructions = strings.TrimSpace(string(data))
	}
	return NewService(gw, Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
		DefaultPool: pc.Exercises,
		Policy:      policy,
		Parser:      NewParser(pc.MoodKeywords),
		Observer:    obs,
		Logger:      log,
	}), nil
}

// Policy returns the active policy.
func (s *Service) Policy() *Policy { return s.opts.Policy }

// DefaultPool returns the pool used when a request brings none.
func (s *Service) DefaultPool() []string { return s.opts.DefaultPool }

// Generate validates, prompts the model once and parses its reply.
// Gateway errors come back wrapped with their kind intact.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if !req.Principal.IsPositive() {
		return nil, &ValidationError{Field: "principal", Message: "principal must be positive"}
	}
	if strings.TrimSpace(req.Credential) == "" {
		return nil, &ValidationError{Field: "credential", Message: "missing credential"}
	}

	pool := NormalizePool(req.Exercises)
	if len(pool) == 0 {
		pool = s.opts.DefaultPool
	}
	model := req.Model
	if model == "" {
		model = s.opts.Model
	}

	policy := s.opts.Policy
	prompt, err := policy.BuildPrompt(req.Amount, req.Principal, pool)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"model":      model,
		"tier":       prompt.Tier.String(),
	})
	spec := policy.Spec(prompt.Tier)
	s.emit(Event{RequestID: req.ID, UserID: req.UserID, State: StateGenerating, Tier: spec.Label})

	raw, err := s.gw.Complete(ctx, llm.CompletionRequest{
		Credential: req.Credential,
		Model:      model,
		Messages: []llm.Message{
			llm.SystemMessage(prompt.Instructions),
			llm.UserMessage(prompt.Context),
		},
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
		Timeout:     s.opts.Timeout,
	})
	if err != nil {
		log.WithError(err).Warn("prescription failed")
		s.emit(Event{RequestID: req.ID, UserID: req.UserID, State: StateFailed, Tier: spec.Label, Error: err.Error(), Code: llm.Code(err)})
		return nil, fmt.Errorf("prescription: model call: %w", err)
	}

	parsed := s.opts.Parser.Parse(raw)
	res := &Result{
		ID:           req.ID,
		Amount:       req.Amount,
		Principal:    req.Principal,
		ROIPercent:   RoundROI(prompt.ROI),
		Tier:         prompt.Tier,
		TierLabel:    spec.Label,
		Mood:         parsed.Mood,
		ExerciseText: policy.Strategy.Exercise(spec, pool, parsed.ExerciseText),
		Advice:       parsed.Advice,
		RawModelText: raw,
		Model:        model,
		GeneratedAt:  s.opts.Now(),
	}

	log.WithField("mood", res.Mood).Info("prescription generated")
	s.emit(Event{RequestID: req.ID, UserID: req.UserID, State: StateDone, Tier: spec.Label})
	return res, nil
}

// RoundROI rounds to two places, half away from zero.
func RoundROI(roi decimal.Decimal) decimal.Decimal {
	return roi.Round(2)
}

// NormalizePool trims names and drops blanks and duplicates, keeping order.
func NormalizePool(pool []string) []string {
	if len(pool) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(pool))
	out := make([]string, 0, len(pool))
	for _, name := range pool {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (s *Service) emit(e Event) {
	if s.opts.Observer == nil {
		return
	}
	e.At = s.opts.Now()
	s.opts.Observer.Observe(e)
}
