package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/acrotron/regine-chat/internal/db"
)

// SessionSummary aggregates the archive per chat session.
type SessionSummary struct {
	ChatID        int
	ChatTitle     string
	ExchangeCount int
	LastActivity  time.Time
}

// queryResult carries one async query outcome.
type queryResult struct {
	Exchanges []Exchange
	Summaries []SessionSummary
	Err       error
}

// FetchRecent returns the newest archived exchanges, most recent first.
func FetchRecent(ctx context.Context, path string, limit int) ([]Exchange, error) {
	if err := statArchive(path); err != nil {
		return nil, err
	}

	database, err := db.GetDB()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			CAST(exchange_id AS VARCHAR),
			chat_id,
			CAST(chat_title AS VARCHAR),
			CAST(model AS VARCHAR),
			CAST(user_text AS VARCHAR),
			CAST(assistant_text AS VARCHAR),
			CAST(timestamp AS VARCHAR)
		FROM read_json('%s',
			format = 'newline_delimited',
			union_by_name = true
		)
		ORDER BY timestamp DESC
		LIMIT %d
	`, path, limit)

	resultChan := executeExchangeQueryAsync(ctx, database, query)
	select {
	case result := <-resultChan:
		return result.Exchanges, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Search returns archived exchanges whose user or assistant text matches
// pattern (case-insensitive substring), most recent first.
func Search(ctx context.Context, path, pattern string, limit int) ([]Exchange, error) {
	if err := statArchive(path); err != nil {
		return nil, err
	}

	database, err := db.GetDB()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			CAST(exchange_id AS VARCHAR),
			chat_id,
			CAST(chat_title AS VARCHAR),
			CAST(model AS VARCHAR),
			CAST(user_text AS VARCHAR),
			CAST(assistant_text AS VARCHAR),
			CAST(timestamp AS VARCHAR)
		FROM read_json('%s',
			format = 'newline_delimited',
			union_by_name = true
		)
		WHERE user_text ILIKE '%%' || ? || '%%'
		   OR assistant_text ILIKE '%%' || ? || '%%'
		ORDER BY timestamp DESC
		LIMIT %d
	`, path, limit)

	resultChan := executeExchangeQueryAsync(ctx, database, query, pattern, pattern)
	select {
	case result := <-resultChan:
		return result.Exchanges, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SummarizeSessions aggregates exchange counts and recency per session.
func SummarizeSessions(ctx context.Context, path string) ([]SessionSummary, error) {
	if err := statArchive(path); err != nil {
		return nil, err
	}

	database, err := db.GetDB()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			chat_id,
			MAX(CAST(chat_title AS VARCHAR)) as chat_title,
			COUNT(*) as exchange_count,
			MAX(CAST(timestamp AS VARCHAR)) as last_activity
		FROM read_json('%s',
			format = 'newline_delimited',
			union_by_name = true
		)
		GROUP BY chat_id
		ORDER BY MAX(timestamp) DESC
	`, path)

	resultChan := executeSummaryQueryAsync(ctx, database, query)
	select {
	case result := <-resultChan:
		return result.Summaries, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// executeExchangeQueryAsync runs an exchange query on a goroutine and
// delivers the result over a channel so callers can race it against their
// context.
func executeExchangeQueryAsync(ctx context.Context, database *sql.DB, query string, args ...interface{}) <-chan queryResult {
	resultChan := make(chan queryResult, 1)

	go func() {
		defer close(resultChan)

		queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		rows, err := database.QueryContext(queryCtx, query, args...)
		if err != nil {
			deliver(ctx, resultChan, queryResult{Err: fmt.Errorf("failed to execute archive query: %w", err)})
			return
		}
		defer rows.Close()

		var exchanges []Exchange
		for rows.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var ex Exchange
			var ts sql.NullString
			if err := rows.Scan(&ex.ExchangeID, &ex.ChatID, &ex.ChatTitle, &ex.Model, &ex.UserText, &ex.AssistantText, &ts); err != nil {
				continue
			}
			ex.Timestamp = parseArchiveTime(ts)
			exchanges = append(exchanges, ex)
		}

		deliver(ctx, resultChan, queryResult{Exchanges: exchanges})
	}()

	return resultChan
}

func executeSummaryQueryAsync(ctx context.Context, database *sql.DB, query string) <-chan queryResult {
	resultChan := make(chan queryResult, 1)

	go func() {
		defer close(resultChan)

		queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		rows, err := database.QueryContext(queryCtx, query)
		if err != nil {
			deliver(ctx, resultChan, queryResult{Err: fmt.Errorf("failed to execute summary query: %w", err)})
			return
		}
		defer rows.Close()

		var summaries []SessionSummary
		for rows.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var summary SessionSummary
			var ts sql.NullString
			if err := rows.Scan(&summary.ChatID, &summary.ChatTitle, &summary.ExchangeCount, &ts); err != nil {
				continue
			}
			summary.LastActivity = parseArchiveTime(ts)
			summaries = append(summaries, summary)
		}

		deliver(ctx, resultChan, queryResult{Summaries: summaries})
	}()

	return resultChan
}

func deliver(ctx context.Context, ch chan<- queryResult, result queryResult) {
	select {
	case ch <- result:
	case <-ctx.Done():
	}
}

func statArchive(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no archive at %s: %w", path, err)
	}
	return nil
}

func parseArchiveTime(value sql.NullString) time.Time {
	if value.Valid {
		if t, err := time.Parse(time.RFC3339, value.String); err == nil {
			return t.Local()
		}
	}
	return time.Now()
}
