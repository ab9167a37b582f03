package sql

import (
	"fmt"
	"strings"
)

type MysqlQueryProvider struct {
	Table       string
	LedgerTable string
	Columns     []string
}

func (m MysqlQueryProvider) InsertEventSql() string {
	q := "INSERT INTO `%s` (`event_id`, `event_type`, `aggregate_id`, `aggregate_type`, `payload`, `status`, `created_at`, `retry_count`, `last_error`) VALUES (?, ?, ?, ?, ?, ?, ?, 0, '')"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) DueEventsSql(batchSize int) string {
	q := `SELECT %s FROM %s
		WHERE status = 'pending' OR
		(status = 'failed' AND next_retry_at <= ?) OR
		(status = 'processing' AND processed_at < ?)
		ORDER BY created_at ASC, id ASC LIMIT %d`

	return fmt.Sprintf(q, strings.Join(m.escapeColumns(), ", "), m.Table, batchSize)
}

func (m MysqlQueryProvider) ClaimEventSql() string {
	q := `UPDATE %s SET status = 'processing', processed_at = ?
		WHERE id = ? AND (status = 'pending' OR
		(status = 'failed' AND next_retry_at <= ?) OR
		(status = 'processing' AND processed_at < ?))`

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) EventPublishedUpdateSql() string {
	q := "UPDATE `%s` SET `status` = 'published', `published_at` = ?, `processed_at` = ?, `next_retry_at` = NULL WHERE `id` = ? AND `status` = 'processing'"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) EventFailedUpdateSql() string {
	q := "UPDATE `%s` SET `status` = ?, `retry_count` = ?, `last_error` = ?, `next_retry_at` = ? WHERE `id` = ? AND `status` = 'processing'"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) ReplayEventsSql(statusCount int, byEventType bool) string {
	q := `UPDATE %s SET status = 'pending', retry_count = 0, next_retry_at = NULL, last_error = ''
		WHERE status IN (%s)`

	q = fmt.Sprintf(q, m.Table, strings.Trim(strings.Repeat("?, ", statusCount), ", "))
	if byEventType {
		q += " AND event_type = ?"
	}

	return q
}

func (m MysqlQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status IN ('pending', 'processing', 'failed')", m.Table)
}

func (m MysqlQueryProvider) GetTotalSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", m.Table)
}

func (m MysqlQueryProvider) ProcessedExistsSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE `event_id` = ?", m.LedgerTable)
}

// ProcessedInsertSql affects no rows when the event id is already recorded.
func (m MysqlQueryProvider) ProcessedInsertSql() string {
	q := "INSERT IGNORE INTO `%s` (`event_id`, `event_type`, `processed_at`, `processing_duration_ms`) VALUES (?, ?, ?, ?)"

	return fmt.Sprintf(q, m.LedgerTable)
}

func (m MysqlQueryProvider) escapeColumns() []string {
	var escaped []string
	for _, c := range m.Columns {
		escaped = append(escaped, "`"+c+"`")
	}

	return escaped
}
