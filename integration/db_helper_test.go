//go:build integration

package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inviqa/event-outbox/outbox"
)

func purgeTables() {
	for _, table := range []string{cfg.DBOutboxTable, cfg.DBLedgerTable} {
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s;", table)); err != nil {
			panic(fmt.Sprintf("an error occurred cleaning the %s table for tests: %s", table, err))
		}
	}
}

// appendUserEvent writes an event in its own transaction, committing it only
// when commit is true.
func appendUserEvent(eventType, userId string, commit bool) *outbox.Event {
	tx, err := db.Begin()
	if err != nil {
		panic(fmt.Sprintf("error creating a DB transaction: %s", err))
	}

	e, err := writer.Append(context.Background(), tx, eventType, userId, "user", map[string]string{
		"userId": userId,
		"email":  userId + "@example.com",
	})
	if err != nil {
		_ = tx.Rollback()
		panic(fmt.Sprintf("failed to append an outbox event: %s", err))
	}

	if !commit {
		if err := tx.Rollback(); err != nil {
			panic(fmt.Sprintf("error rolling back DB transaction: %s", err))
		}
		return e
	}

	if err := tx.Commit(); err != nil {
		panic(fmt.Sprintf("error committing DB transaction: %s", err))
	}

	return e
}

type storedEvent struct {
	Status      string
	RetryCount  int
	PublishedAt *time.Time
}

func getEvent(eventId string) (storedEvent, bool) {
	q := rebind(fmt.Sprintf("SELECT status, retry_count, published_at FROM %s WHERE event_id = ?", cfg.DBOutboxTable))

	var se storedEvent
	rows, err := db.Query(q, eventId)
	if err != nil {
		panic(fmt.Sprintf("an error occurred reading outbox event %s: %s", eventId, err))
	}
	defer rows.Close()

	if !rows.Next() {
		return se, false
	}

	if err := rows.Scan(&se.Status, &se.RetryCount, &se.PublishedAt); err != nil {
		panic(fmt.Sprintf("an error occurred scanning outbox event %s: %s", eventId, err))
	}

	return se, true
}

func setEventState(eventId string, status outbox.Status, processedAt time.Time) {
	q := rebind(fmt.Sprintf("UPDATE %s SET status = ?, processed_at = ? WHERE event_id = ?", cfg.DBOutboxTable))
	if _, err := db.Exec(q, string(status), processedAt, eventId); err != nil {
		panic(fmt.Sprintf("unable to update outbox event %s: %s", eventId, err))
	}
}

func ledgerCount(eventId string) int {
	q := rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE event_id = ?", cfg.DBLedgerTable))

	var count int
	if err := db.QueryRow(q, eventId).Scan(&count); err != nil {
		panic(err)
	}

	return count
}

func rebind(q string) string {
	if !cfg.DBDriver.Postgres() {
		return q
	}

	for i := 1; strings.Contains(q, "?"); i++ {
		q = strings.Replace(q, "?", fmt.Sprintf("$%d", i), 1)
	}

	return q
}
