package test

import (
	"context"
	"errors"
	"sync"

	"inviqa/event-outbox/outbox"
)

type mockPublisher struct {
	sync.RWMutex
	published      map[string][][]byte
	failuresLeft   map[string]int
	openError      error
	channelsOpened int
	channelsClosed int
}

func NewMockPublisher() *mockPublisher {
	return &mockPublisher{
		published:    map[string][][]byte{},
		failuresLeft: map[string]int{},
	}
}

func (p *mockPublisher) OpenChannel(_ context.Context) (outbox.PublishChannel, error) {
	p.Lock()
	defer p.Unlock()

	if p.openError != nil {
		return nil, p.openError
	}

	p.channelsOpened++

	return &mockChannel{p: p}, nil
}

func (p *mockPublisher) Close() error {
	return nil
}

func (p *mockPublisher) EventWasPublished(e *outbox.Event) bool {
	p.RLock()
	defer p.RUnlock()
	return len(p.published[e.EventId]) > 0
}

func (p *mockPublisher) PublishedBodies(e *outbox.Event) [][]byte {
	p.RLock()
	defer p.RUnlock()
	return p.published[e.EventId]
}

// FailEvent makes the next n publish attempts for e fail.
func (p *mockPublisher) FailEvent(e *outbox.Event, n int) {
	p.Lock()
	defer p.Unlock()
	p.failuresLeft[e.EventId] = n
}

func (p *mockPublisher) FailToOpen(err error) {
	p.Lock()
	defer p.Unlock()
	p.openError = err
}

func (p *mockPublisher) ChannelsOpened() int {
	p.RLock()
	defer p.RUnlock()
	return p.channelsOpened
}

func (p *mockPublisher) ChannelsClosed() int {
	p.RLock()
	defer p.RUnlock()
	return p.channelsClosed
}

type mockChannel struct {
	p *mockPublisher
}

func (c *mockChannel) Publish(_ context.Context, e *outbox.Event, body []byte) error {
	c.p.Lock()
	defer c.p.Unlock()

	if c.p.failuresLeft[e.EventId] > 0 {
		c.p.failuresLeft[e.EventId]--
		return errors.New("broker unreachable")
	}

	c.p.published[e.EventId] = append(c.p.published[e.EventId], body)

	return nil
}

func (c *mockChannel) Close() error {
	c.p.Lock()
	defer c.p.Unlock()
	c.p.channelsClosed++
	return nil
}
