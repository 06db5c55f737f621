package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Budget is consulted before every model attempt and charged after every
// successful completion. A run context implements it.
type Budget interface {
	RunID() string
	Allow() bool
	Charge(cost decimal.Decimal)
}

type Service struct {
	models    []cfg.Model
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	backoff   time.Duration
	timeout   time.Duration
}

// NewService validates the fallback chain against the registered providers.
// ratePerSecond <= 0 disables rate limiting.
func NewService(models []cfg.Model, providers []Provider, ratePerSecond float64, backoff, timeout time.Duration) (*Service, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}

	s := &Service{
		models:    models,
		providers: make(map[string]Provider, len(providers)),
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		backoff:   backoff,
		timeout:   timeout,
	}

	for _, provider := range providers {
		s.providers[provider.Name()] = provider

		limit := rate.Inf
		if ratePerSecond > 0 {
			limit = rate.Limit(ratePerSecond)
		}
		s.limiters[provider.Name()] = rate.NewLimiter(limit, 1)
	}

	for _, model := range models {
		if _, ok := s.providers[model.Provider]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, model.Provider)
		}
	}

	return s, nil
}

func (s *Service) Models() []cfg.Model {
	return s.models
}

// Analyze walks the fallback chain in order until one model answers. Every
// model is tried at most once. Failures never surface as errors: they are
// reported through the result status.
func (s *Service) Analyze(ctx context.Context, budget Budget, item Item, prompt Prompt) Result {
	result := Result{
		Purpose: prompt.Purpose,
		Status:  StatusFailed,
	}
	if budget != nil {
		result.RunID = budget.RunID()
	}

	for i, model := range s.models {
		if budget != nil && !budget.Allow() {
			return s.skip(result, ErrBudgetExceeded)
		}

		if i > 0 && s.backoff > 0 {
			if err := sleep(ctx, s.backoff); err != nil {
				return s.skip(result, err)
			}
		}

		if err := s.limiters[model.Provider].Wait(ctx); err != nil {
			return s.skip(result, err)
		}

		attempt, completion := s.attempt(ctx, model, prompt)
		result.ModelsAttempted = append(result.ModelsAttempted, model.String())
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Outcome == OutcomeSuccess {
			result.Status = StatusSuccess
			result.ModelUsed = model.String()
			result.Text = completion.Text
			result.PromptTokens = completion.PromptTokens
			result.CompletionTokens = completion.CompletionTokens
			result.Usage = completion.Usage
			result.LastError = ""

			if budget != nil {
				budget.Charge(completion.Usage.Net())
			}

			slog.Debug("Analysis completed",
				"item_id", item.ID,
				"model", result.ModelUsed,
				"attempts", len(result.Attempts),
				"net_cost", completion.Usage.Net().String())
			return result
		}

		result.LastError = attempt.Error

		// The run is being stopped; the item stays unanalyzed instead of
		// being recorded as exhausted.
		if ctx.Err() != nil {
			return s.skip(result, ctx.Err())
		}

		slog.Warn("Model attempt failed, trying next",
			"item_id", item.ID,
			"model", model.String(),
			"outcome", attempt.Outcome,
			"error", attempt.Error)
	}

	slog.Error("All models failed",
		"item_id", item.ID,
		"models", result.ModelsAttempted,
		"error", result.LastError)

	return result
}

func (s *Service) attempt(ctx context.Context, model cfg.Model, prompt Prompt) (Attempt, *Completion) {
	attemptCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := s.providers[model.Provider].Complete(attemptCtx, model.Name, prompt)
	if err == nil && (completion == nil || completion.Text == "") {
		err = ErrEmptyCompletion
	}

	attempt := Attempt{
		Model:    model.String(),
		Outcome:  classify(err),
		Duration: time.Since(start),
	}
	if err != nil {
		attempt.Error = err.Error()
		return attempt, nil
	}

	return attempt, completion
}

func (s *Service) skip(result Result, reason error) Result {
	result.Status = StatusSkipped
	result.LastError = reason.Error()
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
