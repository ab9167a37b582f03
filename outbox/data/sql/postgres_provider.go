package sql

import (
	"fmt"
	"strings"
)

type PostgresQueryProvider struct {
	Table       string
	LedgerTable string
	Columns     []string
}

func (m PostgresQueryProvider) InsertEventSql() string {
	q := `INSERT INTO %s (event_id, event_type, aggregate_id, aggregate_type, payload, status, created_at, retry_count, last_error) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, '')`

	return fmt.Sprintf(q, m.Table)
}

func (m PostgresQueryProvider) DueEventsSql(batchSize int) string {
	q := `SELECT %s FROM %s
		WHERE status = 'pending' OR
		(status = 'failed' AND next_retry_at <= $1) OR
		(status = 'processing' AND processed_at < $2)
		ORDER BY created_at ASC, id ASC LIMIT %d`

	return fmt.Sprintf(q, strings.Join(m.Columns, ", "), m.Table, batchSize)
}

func (m PostgresQueryProvider) ClaimEventSql() string {
	q := `UPDATE %s SET status = 'processing', processed_at = $1
		WHERE id = $2 AND (status = 'pending' OR
		(status = 'failed' AND next_retry_at <= $3) OR
		(status = 'processing' AND processed_at < $4))`

	return fmt.Sprintf(q, m.Table)
}

func (m PostgresQueryProvider) EventPublishedUpdateSql() string {
	q := `UPDATE %s SET status = 'published', published_at = $1, processed_at = $2, next_retry_at = NULL WHERE id = $3 AND status = 'processing'`

	return fmt.Sprintf(q, m.Table)
}

func (m PostgresQueryProvider) EventFailedUpdateSql() string {
	q := `UPDATE %s SET status = $1, retry_count = $2, last_error = $3, next_retry_at = $4 WHERE id = $5 AND status = 'processing'`

	return fmt.Sprintf(q, m.Table)
}

func (m PostgresQueryProvider) ReplayEventsSql(statusCount int, byEventType bool) string {
	q := `UPDATE %s SET status = 'pending', retry_count = 0, next_retry_at = NULL, last_error = ''
		WHERE status IN (%s)`

	var placeholders []string
	for i := 1; i <= statusCount; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}

	q = fmt.Sprintf(q, m.Table, strings.Join(placeholders, ", "))
	if byEventType {
		q += fmt.Sprintf(" AND event_type = $%d", statusCount+1)
	}

	return q
}

func (m PostgresQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status IN ('pending', 'processing', 'failed')", m.Table)
}

func (m PostgresQueryProvider) GetTotalSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", m.Table)
}

func (m PostgresQueryProvider) ProcessedExistsSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE event_id = $1", m.LedgerTable)
}

// ProcessedInsertSql affects no rows when the event id is already recorded.
func (m PostgresQueryProvider) ProcessedInsertSql() string {
	q := `INSERT INTO %s (event_id, event_type, processed_at, processing_duration_ms) VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`

	return fmt.Sprintf(q, m.LedgerTable)
}
