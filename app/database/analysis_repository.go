package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/rss-relay/app/analysis"
	"github.com/shopspring/decimal"
)

// AnalysisRepository persists analysis results and the AI cost ledger
type AnalysisRepository struct {
	db *DB
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, item_id, purpose, status, model_used,
	models_attempted_json, attempts_json, result_text, last_error,
	tokens_prompt, tokens_completion,
	usage_gross, usage_cache, usage_data, usage_web, usage_file,
	run_id, is_current, created_at`

// Store records a finished analysis and makes it the current one for the
// item and purpose. Prior rows stay as history. A successful result also
// appends a cost ledger entry. Skipped results are not stored.
func (r *AnalysisRepository) Store(ctx context.Context, itemID int64, result analysis.Result) (int64, error) {
	if result.Status != analysis.StatusSuccess && result.Status != analysis.StatusFailed {
		return 0, fmt.Errorf("cannot store analysis with status '%s'", result.Status)
	}
	if result.Purpose == "" {
		return 0, fmt.Errorf("analysis purpose is required")
	}

	modelsAttempted, err := json.Marshal(nonNil(result.ModelsAttempted))
	if err != nil {
		return 0, fmt.Errorf("failed to encode attempted models: %w", err)
	}
	attempts := result.Attempts
	if attempts == nil {
		attempts = []analysis.Attempt{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to encode attempts: %w", err)
	}

	now := formatTime(time.Now())
	usage := result.Usage
	net := usage.Net().String()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE ai_analysis SET is_current = 0
		WHERE item_id = ? AND purpose = ? AND is_current = 1
	`, itemID, result.Purpose)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede analysis: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ai_analysis (
			item_id, purpose, status, model_used, models_attempted_json, attempts_json,
			result_text, last_error, tokens_prompt, tokens_completion,
			usage_gross, usage_cache, usage_data, usage_web, usage_file, usage_net,
			run_id, is_current, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		RETURNING id
	`, itemID, result.Purpose, string(result.Status), result.ModelUsed,
		string(modelsAttempted), string(attemptsJSON), result.Text, result.LastError,
		result.PromptTokens, result.CompletionTokens,
		usage.Gross.String(), usage.Cache, usage.Data, usage.Web, usage.File, net,
		result.RunID, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to store analysis: %w", err)
	}

	if result.Succeeded() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ai_cost_ledger (
				analysis_id, item_id, run_id, model,
				usage_gross, usage_cache, usage_data, usage_web, usage_file, usage_net, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, itemID, result.RunID, result.ModelUsed,
			usage.Gross.String(), usage.Cache, usage.Data, usage.Web, usage.File, net, now)
		if err != nil {
			return 0, fmt.Errorf("failed to record cost ledger entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit analysis: %w", err)
	}

	return id, nil
}

// HasAnalysis reports whether the item has a current successful analysis for
// purpose. A failed analysis does not count, so the item stays eligible for
// retry.
func (r *AnalysisRepository) HasAnalysis(ctx context.Context, itemID int64, purpose string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ai_analysis
			WHERE item_id = ? AND purpose = ? AND is_current = 1 AND status = 'success'
		)
	`, itemID, purpose).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check analysis: %w", err)
	}
	return exists, nil
}

// GetCurrent returns the current analysis, successful or failed
func (r *AnalysisRepository) GetCurrent(ctx context.Context, itemID int64, purpose string) (*Analysis, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+analysisColumns+` FROM ai_analysis
		WHERE item_id = ? AND purpose = ? AND is_current = 1
	`, itemID, purpose)

	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return a, nil
}

// GetHistory returns every analysis of the item for purpose, oldest first
func (r *AnalysisRepository) GetHistory(ctx context.Context, itemID int64, purpose string) ([]Analysis, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+analysisColumns+` FROM ai_analysis
		WHERE item_id = ? AND purpose = ?
		ORDER BY id
	`, itemID, purpose)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis history: %w", err)
	}
	defer rows.Close()

	var history []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		history = append(history, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis rows: %w", err)
	}

	return history, nil
}

// TotalNetCost sums the ledger from since onwards. Amounts are summed as
// decimals, not as SQLite floats.
func (r *AnalysisRepository) TotalNetCost(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT usage_net FROM ai_cost_ledger WHERE created_at >= ?`, formatTime(since))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get cost ledger: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan cost ledger row: %w", err)
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid stored cost '%s': %w", value, err)
		}
		total = total.Add(amount)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating cost ledger rows: %w", err)
	}

	return total, nil
}

// GetStats returns the number of current successful and failed analyses
func (r *AnalysisRepository) GetStats(ctx context.Context) (int, int, error) {
	var succeeded, failed int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM ai_analysis
		WHERE is_current = 1
	`).Scan(&succeeded, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get analysis stats: %w", err)
	}
	return succeeded, failed, nil
}

func scanAnalysis(row rowScanner) (*Analysis, error) {
	var a Analysis
	var status, modelsAttempted, attempts, gross, createdAt string

	err := row.Scan(
		&a.ID, &a.ItemID, &a.Purpose, &status, &a.ModelUsed,
		&modelsAttempted, &attempts, &a.ResultText, &a.LastError,
		&a.TokensPrompt, &a.TokensCompletion,
		&gross, &a.Usage.Cache, &a.Usage.Data, &a.Usage.Web, &a.Usage.File,
		&a.RunID, &a.IsCurrent, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = analysis.Status(status)
	if a.Usage.Gross, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("invalid stored gross cost '%s': %w", gross, err)
	}
	if err := json.Unmarshal([]byte(modelsAttempted), &a.ModelsAttempted); err != nil {
		return nil, fmt.Errorf("invalid stored attempted models: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &a.Attempts); err != nil {
		return nil, fmt.Errorf("invalid stored attempts: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &a, nil
}
