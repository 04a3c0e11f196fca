package testutil

import (
	"context"
	"sync"

	"github.com/trezcool/academia/core/notification"
)

// Publisher records the notifications handed to the broker.
type Publisher struct {
	mu        sync.Mutex
	published []notification.Notification
	Err       error
}

func (p *Publisher) Publish(_ context.Context, ntf notification.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.published = append(p.published, ntf)
	return nil
}

func (p *Publisher) Published() []notification.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notification.Notification(nil), p.published...)
}
