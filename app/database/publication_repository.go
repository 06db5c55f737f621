package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultClaimTTL bounds how long a send may hold its claim before the claim
// is considered abandoned.
const DefaultClaimTTL = 5 * time.Minute

// PublicationRepository tracks delivery of items to targets
type PublicationRepository struct {
	db       *DB
	claimTTL time.Duration
}

// NewPublicationRepository creates a new publication repository
func NewPublicationRepository(db *DB, claimTTL time.Duration) *PublicationRepository {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &PublicationRepository{db: db, claimTTL: claimTTL}
}

const publicationColumns = `id, item_id, target, status, platform_message_id,
	attempts, last_error, claimed_at, sent_at, created_at, updated_at`

// Publish delivers the item to target at most once. The row for the pair is
// reserved first and then claimed with a single conditional update; only the
// caller holding the claim invokes send. A pair already sent returns the
// stored outcome without sending, and a pair claimed by another caller
// returns InFlight. Delivery failures are reported in the outcome, while the
// returned error is reserved for storage failures.
func (r *PublicationRepository) Publish(ctx context.Context, itemID int64, target string, send SendFunc) (PublicationOutcome, error) {
	now := time.Now()

	if err := r.Reserve(ctx, itemID, []string{target}); err != nil {
		return PublicationOutcome{}, err
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE publications
		SET status = 'pending', claimed_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE item_id = ? AND target = ?
		  AND status != 'sent'
		  AND (claimed_at IS NULL OR claimed_at < ?)
		RETURNING `+publicationColumns,
		formatTime(now), formatTime(now), itemID, target, formatTime(now.Add(-r.claimTTL)))

	claimed, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.existingOutcome(ctx, itemID, target)
	}
	if err != nil {
		return PublicationOutcome{}, fmt.Errorf("failed to claim publication: %w", err)
	}

	messageID, sendErr := send(ctx)

	// The result is recorded even when the run is being cancelled, otherwise
	// a completed send would be left looking claimed.
	recordCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		row = r.db.QueryRowContext(recordCtx, `
			UPDATE publications
			SET status = 'failed', last_error = ?, claimed_at = NULL, updated_at = ?
			WHERE id = ?
			RETURNING `+publicationColumns,
			sendErr.Error(), formatTime(time.Now()), claimed.ID)

		failed, err := scanPublication(row)
		if err != nil {
			return PublicationOutcome{}, fmt.Errorf("failed to record failed publication: %w", err)
		}

		slog.Warn("Publication failed", "item_id", itemID, "target", target, "attempts", failed.Attempts, "error", sendErr)
		return PublicationOutcome{Publication: *failed, Err: sendErr}, nil
	}

	sentAt := formatTime(time.Now())
	row = r.db.QueryRowContext(recordCtx, `
		UPDATE publications
		SET status = 'sent', platform_message_id = ?, last_error = '',
		    claimed_at = NULL, sent_at = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+publicationColumns,
		messageID, sentAt, sentAt, claimed.ID)

	sent, err := scanPublication(row)
	if err != nil {
		return PublicationOutcome{}, fmt.Errorf("failed to record sent publication: %w", err)
	}

	return PublicationOutcome{Publication: *sent, Sent: true}, nil
}

// Reserve records the decision to deliver an item to targets. Existing rows
// are left untouched. Reserved rows stay retryable until they are sent.
func (r *PublicationRepository) Reserve(ctx context.Context, itemID int64, targets []string) error {
	now := formatTime(time.Now())

	for _, target := range targets {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO publications (item_id, target, status, created_at, updated_at)
			VALUES (?, ?, 'pending', ?, ?)
			ON CONFLICT (item_id, target) DO NOTHING
		`, itemID, target, now, now)
		if err != nil {
			return fmt.Errorf("failed to reserve publication: %w", err)
		}
	}

	return nil
}

func (r *PublicationRepository) existingOutcome(ctx context.Context, itemID int64, target string) (PublicationOutcome, error) {
	existing, err := r.GetPublication(ctx, itemID, target)
	if err != nil {
		return PublicationOutcome{}, err
	}

	if existing.Status == PublicationSent {
		return PublicationOutcome{Publication: *existing, Sent: true, Duplicate: true}, nil
	}

	return PublicationOutcome{Publication: *existing, InFlight: true}, nil
}

// GetPublication returns ErrNotFound when the pair was never reserved
func (r *PublicationRepository) GetPublication(ctx context.Context, itemID int64, target string) (*Publication, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publicationColumns+` FROM publications WHERE item_id = ? AND target = ?`, itemID, target)

	p, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}

	return p, nil
}

// GetRetryable returns failed publications, plus reserved ones that were never
// claimed, whose attempt count is below maxAttempts. A non-positive limit
// returns all of them.
func (r *PublicationRepository) GetRetryable(ctx context.Context, maxAttempts, limit int) ([]Publication, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+publicationColumns+` FROM publications
		WHERE attempts < ?
		  AND (status = 'failed' OR (status = 'pending' AND claimed_at IS NULL))
		ORDER BY updated_at
		LIMIT ?
	`, maxAttempts, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get retryable publications: %w", err)
	}
	defer rows.Close()

	var publications []Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication row: %w", err)
		}
		publications = append(publications, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publication rows: %w", err)
	}

	return publications, nil
}

// ReleaseStale marks claims older than the claim TTL as failed so they become
// retryable. Such a claim belongs to a process that stopped mid-send.
func (r *PublicationRepository) ReleaseStale(ctx context.Context) (int64, error) {
	now := time.Now()

	result, err := r.db.ExecContext(ctx, `
		UPDATE publications
		SET status = 'failed', claimed_at = NULL,
		    last_error = 'claim expired before the send was recorded', updated_at = ?
		WHERE status = 'pending' AND claimed_at IS NOT NULL AND claimed_at < ?
	`, formatTime(now), formatTime(now.Add(-r.claimTTL)))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale publications: %w", err)
	}

	released, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to release stale publications: %w", err)
	}

	if released > 0 {
		slog.Warn("Released stale publication claims", "count", released)
	}

	return released, nil
}

// GetStats returns publication counts per target and status
func (r *PublicationRepository) GetStats(ctx context.Context) ([]TargetStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			target,
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END)
		FROM publications
		GROUP BY target
		ORDER BY target
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get publication stats: %w", err)
	}
	defer rows.Close()

	var stats []TargetStats
	for rows.Next() {
		var s TargetStats
		if err := rows.Scan(&s.Target, &s.Pending, &s.Sent, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan publication stats row: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publication stats rows: %w", err)
	}

	return stats, nil
}

func scanPublication(row rowScanner) (*Publication, error) {
	var p Publication
	var status, createdAt, updatedAt string
	var claimedAt, sentAt sql.NullString

	err := row.Scan(
		&p.ID, &p.ItemID, &p.Target, &status, &p.PlatformMessageID,
		&p.Attempts, &p.LastError, &claimedAt, &sentAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = PublicationStatus(status)
	if p.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return nil, err
	}
	if p.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &p, nil
}
