package test

import (
	"context"
	"errors"
	"sync"
	"time"

	"inviqa/event-outbox/outbox"
)

// MockRepository keeps outbox state in memory and applies the same status
// transitions as the SQL repository, so relay tests can follow an event across
// several attempts.
type MockRepository struct {
	sync.RWMutex
	getBatchCallCount   int
	mockQueueSize       uint
	mockTotalSize       uint
	batchesToReturn     []*outbox.Batch
	returnError         bool
	returnNoEventsError bool
	claimedElsewhere    map[uint]bool
	claims              map[uint]int
	published           map[uint]bool
	failures            map[uint][]string
	replayed            int64
	replayArgs          []interface{}
	policy              outbox.RetryPolicy
	now                 func() time.Time
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		batchesToReturn:  []*outbox.Batch{},
		claimedElsewhere: map[uint]bool{},
		claims:           map[uint]int{},
		published:        map[uint]bool{},
		failures:         map[uint][]string{},
		policy:           outbox.RetryPolicy{MaxExponent: 6},
		now:              time.Now,
	}
}

func (mr *MockRepository) GetBatch(_ context.Context) (*outbox.Batch, error) {
	mr.Lock()
	defer mr.Unlock()
	mr.getBatchCallCount++

	if mr.returnNoEventsError {
		return nil, outbox.ErrNoEvents
	}

	if mr.returnError {
		return nil, errors.New("oops")
	}

	if len(mr.batchesToReturn) == 0 {
		return nil, outbox.ErrNoEvents
	}

	var b *outbox.Batch
	b, mr.batchesToReturn = mr.batchesToReturn[0], mr.batchesToReturn[1:]

	return b, nil
}

func (mr *MockRepository) Claim(_ context.Context, e *outbox.Event) error {
	mr.Lock()
	defer mr.Unlock()

	if mr.claimedElsewhere[e.Id] {
		return outbox.ErrNotClaimed
	}

	due := e.Status == outbox.StatusPending ||
		(e.Status == outbox.StatusFailed && !e.NextRetryAt.Time.After(mr.now()))
	if !due {
		return outbox.ErrNotClaimed
	}

	mr.claims[e.Id]++
	e.Status = outbox.StatusProcessing

	return nil
}

func (mr *MockRepository) MarkPublished(_ context.Context, e *outbox.Event) error {
	mr.Lock()
	defer mr.Unlock()

	if mr.returnError {
		return errors.New("oops")
	}

	e.Status = outbox.StatusPublished
	e.PublishedAt.Time, e.PublishedAt.Valid = mr.now(), true
	e.ProcessedAt = e.PublishedAt
	mr.published[e.Id] = true

	return nil
}

func (mr *MockRepository) MarkFailed(_ context.Context, e *outbox.Event, cause error) error {
	mr.Lock()
	defer mr.Unlock()

	mr.policy.Fail(e, cause, mr.now())
	mr.failures[e.Id] = append(mr.failures[e.Id], cause.Error())

	if mr.returnError {
		return errors.New("oops")
	}

	return nil
}

func (mr *MockRepository) Replay(_ context.Context, eventType string, includeFailed bool) (int64, error) {
	mr.Lock()
	defer mr.Unlock()
	mr.replayArgs = []interface{}{eventType, includeFailed}

	if mr.returnError {
		return 0, errors.New("oops")
	}

	return mr.replayed, nil
}

func (mr *MockRepository) GetQueueSize() (uint, error) {
	if mr.returnError {
		return 0, errors.New("oops")
	}

	return mr.mockQueueSize, nil
}

func (mr *MockRepository) GetTotalSize() (uint, error) {
	if mr.returnError {
		return 0, errors.New("oops")
	}

	return mr.mockTotalSize, nil
}

func (mr *MockRepository) AddBatch(batch *outbox.Batch) {
	mr.Lock()
	defer mr.Unlock()
	mr.batchesToReturn = append(mr.batchesToReturn, batch)
}

func (mr *MockRepository) EventWasPublished(e *outbox.Event) bool {
	mr.RLock()
	defer mr.RUnlock()
	return mr.published[e.Id]
}

func (mr *MockRepository) FailuresFor(e *outbox.Event) []string {
	mr.RLock()
	defer mr.RUnlock()
	return mr.failures[e.Id]
}

func (mr *MockRepository) ClaimCount(e *outbox.Event) int {
	mr.RLock()
	defer mr.RUnlock()
	return mr.claims[e.Id]
}

func (mr *MockRepository) ClaimedElsewhere(e *outbox.Event) {
	mr.Lock()
	defer mr.Unlock()
	mr.claimedElsewhere[e.Id] = true
}

func (mr *MockRepository) GetBatchCallCount() int {
	mr.RLock()
	defer mr.RUnlock()
	return mr.getBatchCallCount
}

func (mr *MockRepository) SetNow(now func() time.Time) {
	mr.Lock()
	defer mr.Unlock()
	mr.now = now
}

func (mr *MockRepository) SetRetryPolicy(p outbox.RetryPolicy) {
	mr.policy = p
}

func (mr *MockRepository) ReturnErrors() {
	mr.returnError = true
}

func (mr *MockRepository) ReturnNoEventsError() {
	mr.returnNoEventsError = true
}

func (mr *MockRepository) SetQueueSize(size uint) {
	mr.mockQueueSize = size
}

func (mr *MockRepository) SetTotalSize(size uint) {
	mr.mockTotalSize = size
}

func (mr *MockRepository) SetReplayedCount(c int64) {
	mr.replayed = c
}

// ReplayedWith returns the event type and includeFailed flag of the last
// Replay call, or nil if it was never called.
func (mr *MockRepository) ReplayedWith() []interface{} {
	mr.RLock()
	defer mr.RUnlock()
	return mr.replayArgs
}
