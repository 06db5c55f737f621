package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/database"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownTarget = errors.New("unknown publication target")

// Sender delivers text to a chat and returns the platform message id
type Sender interface {
	Send(ctx context.Context, chatID, text string) (string, error)
}

type TargetOutcome struct {
	Target  string
	Outcome database.PublicationOutcome
}

// Publisher fans an item out to its targets. Every target is an independent
// unit of work: one failing never blocks or undoes another.
type Publisher struct {
	publications database.PublicationRepositoryInterface
	sender       Sender
	targets      []cfg.Target
	byID         map[string]cfg.Target
}

func NewPublisher(publications database.PublicationRepositoryInterface, sender Sender, targets []cfg.Target) *Publisher {
	byID := make(map[string]cfg.Target, len(targets))
	for _, target := range targets {
		byID[target.ID] = target
	}

	return &Publisher{
		publications: publications,
		sender:       sender,
		targets:      targets,
		byID:         byID,
	}
}

// Targets returns the configured target ids in configuration order
func (p *Publisher) Targets() []string {
	ids := make([]string, 0, len(p.targets))
	for _, target := range p.targets {
		ids = append(ids, target.ID)
	}
	return ids
}

// Resolve maps a feed's target selection to target ids. An empty selection
// means every configured target.
func (p *Publisher) Resolve(selection []string) ([]string, error) {
	if len(selection) == 0 {
		return p.Targets(), nil
	}

	for _, id := range selection {
		if _, ok := p.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
		}
	}

	return selection, nil
}

// Publish sends text for the item to every target concurrently. Delivery
// outcomes are returned per target; the error is the first storage failure.
func (p *Publisher) Publish(ctx context.Context, itemID int64, targets []string, text string) ([]TargetOutcome, error) {
	outcomes := make([]TargetOutcome, len(targets))

	// No shared context: a storage failure on one target must not cancel
	// sends already running for the others.
	var g errgroup.Group

	for i, id := range targets {
		outcomes[i].Target = id

		target, ok := p.byID[id]
		if !ok {
			outcomes[i].Outcome = database.PublicationOutcome{Err: fmt.Errorf("%w: %s", ErrUnknownTarget, id)}
			continue
		}

		g.Go(func() error {
			outcome, err := p.publications.Publish(ctx, itemID, id, func(ctx context.Context) (string, error) {
				return p.sender.Send(ctx, target.ChatID, text)
			})
			if err != nil {
				return fmt.Errorf("failed to publish item %d to %s: %w", itemID, id, err)
			}

			outcomes[i].Outcome = outcome

			switch {
			case outcome.Duplicate:
				slog.Debug("Already published", "item_id", itemID, "target", id)
			case outcome.InFlight:
				slog.Debug("Publication in flight elsewhere", "item_id", itemID, "target", id)
			case outcome.Sent:
				slog.Info("Published", "item_id", itemID, "target", id, "message_id", outcome.Publication.PlatformMessageID)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	return outcomes, nil
}
