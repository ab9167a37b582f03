package outbox

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"inviqa/event-outbox/config"
	s "inviqa/event-outbox/outbox/data/sql"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-test/deep"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewRepository(t *testing.T) {
	deep.CompareUnexportedFields = true
	defer func() {
		deep.CompareUnexportedFields = false
	}()

	db, _, _ := sqlmock.New()

	tests := []struct {
		name             string
		cfg              *config.Config
		expQueryProvider queryProvider
	}{
		{
			name: "mysql query provider",
			cfg: &config.Config{
				DBOutboxTable: "outbox_table",
				DBLedgerTable: "ledger_table",
				DBDriver:      config.MySQL,
			},
			expQueryProvider: &s.MysqlQueryProvider{Table: "outbox_table", LedgerTable: "ledger_table", Columns: columns},
		},
		{
			name: "postgres query provider",
			cfg: &config.Config{
				DBOutboxTable: "outbox_table",
				DBLedgerTable: "ledger_table",
				DBDriver:      config.Postgres,
			},
			expQueryProvider: &s.PostgresQueryProvider{Table: "outbox_table", LedgerTable: "ledger_table", Columns: columns},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewRepository(db, tt.cfg)
			if diff := deep.Equal(tt.expQueryProvider, got.queryProvider); diff != nil {
				t.Error(diff)
			}

			if got.db != db || got.cfg != tt.cfg {
				t.Error("repository was not built with the given db and config")
			}
		})
	}
}

func TestRepository_GetBatch(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{BatchSize: 100, RelayStaleAfterSeconds: 600})

	created := fixedNow.Add(-time.Hour)
	retryAt := fixedNow.Add(-time.Minute)
	rows := sqlmock.NewRows(columns).
		AddRow(123, "e-1", "user.registered", "42", "user", []byte(`{"userId":"42"}`), "pending", created, nil, nil, 0, "", nil).
		AddRow(124, "e-2", "user.updated", "43", "user", []byte(`{"userId":"43"}`), "failed", created, created, nil, 2, "connection refused", retryAt)

	mock.ExpectQuery("SELECT .* FROM outbox LIMIT 100").
		WithArgs(fixedNow, fixedNow.Add(-10*time.Minute)).
		WillReturnRows(rows)

	batch, err := repo.GetBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("some SQL expectations were not met: %s", err)
	}

	if batch.Id.String() == "" {
		t.Error("empty batch ID received")
	}

	exp := []*Event{
		{
			Id:            123,
			EventId:       "e-1",
			EventType:     "user.registered",
			AggregateId:   "42",
			AggregateType: "user",
			Payload:       []byte(`{"userId":"42"}`),
			Status:        StatusPending,
			CreatedAt:     created,
		},
		{
			Id:            124,
			EventId:       "e-2",
			EventType:     "user.updated",
			AggregateId:   "43",
			AggregateType: "user",
			Payload:       []byte(`{"userId":"43"}`),
			Status:        StatusFailed,
			CreatedAt:     created,
			ProcessedAt:   sql.NullTime{Time: created, Valid: true},
			RetryCount:    2,
			LastError:     "connection refused",
			NextRetryAt:   sql.NullTime{Time: retryAt, Valid: true},
		},
	}

	if diff := deep.Equal(exp, batch.Events); diff != nil {
		t.Error(diff)
	}
}

func TestRepository_GetBatchWithEmptyResult(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{BatchSize: 250})
	mock.ExpectQuery("SELECT .* FROM outbox LIMIT 250").WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.GetBatch(context.Background())
	if !errors.Is(err, ErrNoEvents) {
		t.Errorf("expected ErrNoEvents, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("some SQL expectations were not met: %s", err)
	}
}

func TestRepository_GetBatchWithSelectError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{BatchSize: 250})
	mock.ExpectQuery("SELECT .* FROM outbox").WillReturnError(errors.New("oops"))

	_, err := repo.GetBatch(context.Background())
	if err == nil || errors.Is(err, ErrNoEvents) {
		t.Errorf("expected a query error but got %v", err)
	}
}

func TestRepository_Claim(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{RelayStaleAfterSeconds: 60})
	e := &Event{Id: 7, EventId: "e-7", Status: StatusPending}

	mock.ExpectExec("UPDATE outbox SET status = 'processing'").
		WithArgs(fixedNow, 7, fixedNow, fixedNow.Add(-time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Claim(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if e.Status != StatusProcessing || !e.ProcessedAt.Valid {
		t.Errorf("event was not moved to processing: %+v", e)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("some SQL expectations were not met: %s", err)
	}
}

func TestRepository_ClaimLostToAnotherRelay(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{})
	e := &Event{Id: 7, EventId: "e-7", Status: StatusPending}

	mock.ExpectExec("UPDATE outbox SET status = 'processing'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Claim(context.Background(), e); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("expected ErrNotClaimed, got %v", err)
	}

	if e.Status != StatusPending {
		t.Errorf("unclaimed event status changed to %s", e.Status)
	}
}

func TestRepository_MarkPublished(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{})
	e := &Event{Id: 7, EventId: "e-7", Status: StatusProcessing}

	mock.ExpectExec("UPDATE outbox SET status = 'published'").
		WithArgs(fixedNow, fixedNow, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkPublished(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if e.Status != StatusPublished || e.PublishedAt.Time != fixedNow || e.ProcessedAt.Time != fixedNow {
		t.Errorf("event was not marked as published: %+v", e)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("some SQL expectations were not met: %s", err)
	}
}

func TestRepository_MarkFailed(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{RelayMaxBackoffExponent: 6})
	e := &Event{Id: 7, EventId: "e-7", Status: StatusProcessing, RetryCount: 1}

	mock.ExpectExec("UPDATE outbox SET status = \\?, retry_count").
		WithArgs("failed", 2, "broker unreachable", sql.NullTime{Time: fixedNow.Add(4 * time.Minute), Valid: true}, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), e, errors.New("broker unreachable")); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("some SQL expectations were not met: %s", err)
	}
}

func TestRepository_MarkFailedWithQueryError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	repo := newTestRepository(db, &config.Config{RelayMaxBackoffExponent: 6})
	mock.ExpectExec("UPDATE outbox SET status = \\?").WillReturnError(errors.New("oops"))

	if err := repo.MarkFailed(context.Background(), &Event{Id: 1}, errors.New("nope")); err == nil {
		t.Error("expected an error but got nil")
	}
}

func TestRepository_Replay(t *testing.T) {
	tests := []struct {
		name          string
		eventType     string
		includeFailed bool
		args          []driver.Value
	}{
		{name: "dead events of every type", args: []driver.Value{"dead"}},
		{name: "dead events of one type", eventType: "user.updated", args: []driver.Value{"dead", "user.updated"}},
		{name: "failed events too", includeFailed: true, args: []driver.Value{"dead", "failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, _ := sqlmock.New()
			defer db.Close()

			repo := newTestRepository(db, &config.Config{})

			mock.ExpectExec("UPDATE outbox SET status = 'pending'").
				WithArgs(tt.args...).
				WillReturnResult(sqlmock.NewResult(0, 12))

			n, err := repo.Replay(context.Background(), tt.eventType, tt.includeFailed)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			if n != 12 {
				t.Errorf("expected 12 replayed events, got %d", n)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("some SQL expectations were not met: %s", err)
			}
		})
	}
}

func TestRepository_GetQueueSize(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(10)
	repo := newTestRepository(db, &config.Config{})
	mock.ExpectQuery("SELECT COUNT.*WHERE.*").
		WillReturnRows(rows)

	size, err := repo.GetQueueSize()
	if err != nil {
		t.Errorf("unexpected error: %s", err)
	}

	if size != 10 {
		t.Errorf("expected the queue size to be 10, but got %d", size)
	}
}

func TestRepository_GetTotalSize(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(99)
	repo := newTestRepository(db, &config.Config{})
	mock.ExpectQuery("SELECT COUNT.*").
		WillReturnRows(rows)

	size, err := repo.GetTotalSize()
	if err != nil {
		t.Errorf("unexpected error: %s", err)
	}

	if size != 99 {
		t.Errorf("expected the total size to be 99, but got %d", size)
	}
}

func newTestRepository(db *sql.DB, cfg *config.Config) Repository {
	repo := NewRepositoryWithQueryProvider(db, cfg, &mockQueryProvider{})
	repo.now = func() time.Time { return fixedNow }

	return repo
}

type mockQueryProvider struct {
}

func (m mockQueryProvider) InsertEventSql() string {
	return "INSERT INTO outbox (event_id, event_type, aggregate_id, aggregate_type, payload, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
}

func (m mockQueryProvider) DueEventsSql(batchSize int) string {
	return fmt.Sprintf("SELECT %s FROM outbox LIMIT %d", columns, batchSize)
}

func (m mockQueryProvider) ClaimEventSql() string {
	return "UPDATE outbox SET status = 'processing', processed_at = ? WHERE id = ?"
}

func (m mockQueryProvider) EventPublishedUpdateSql() string {
	return "UPDATE outbox SET status = 'published', published_at = ?, processed_at = ? WHERE id = ?"
}

func (m mockQueryProvider) EventFailedUpdateSql() string {
	return "UPDATE outbox SET status = ?, retry_count = ?, last_error = ?, next_retry_at = ? WHERE id = ?"
}

func (m mockQueryProvider) ReplayEventsSql(statusCount int, byEventType bool) string {
	return "UPDATE outbox SET status = 'pending' WHERE status IN (?)"
}

func (m mockQueryProvider) GetQueueSizeSql() string {
	return "SELECT COUNT(*) FROM outbox WHERE status IN ('pending')"
}

func (m mockQueryProvider) GetTotalSizeSql() string {
	return "SELECT COUNT(*) FROM outbox"
}
