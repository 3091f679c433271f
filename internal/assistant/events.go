package assistant

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/model"
)

const (
	subscriberBuffer = 64
	journalBuffer    = 256
	journalTimeout   = 5 * time.Second
)

// Subscribe returns a stream of session events. Slow subscribers miss
// events rather than block the controller. The channel is closed by the
// returned cancel function or by Close.
func (c *Controller) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		sub, ok := c.subscribers[id]
		delete(c.subscribers, id)
		c.mu.Unlock()
		if ok {
			close(sub)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (c *Controller) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

func (c *Controller) emitState(state State) {
	c.emit(model.Event{Type: model.EventTypeState, State: string(state)})
}

// emit fans ev out to subscribers and queues it for the journal. Must not
// be called with c.mu held.
func (c *Controller) emit(ev model.Event) {
	ev.SessionID = c.id
	ev.CreatedAt = time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.logger.Debug("dropping event for slow subscriber", zap.String("type", string(ev.Type)))
		}
	}

	if c.journalQ == nil || c.closed || !journaled(ev.Type) {
		return
	}
	select {
	case c.journalQ <- ev:
	default:
		c.logger.Warn("journal queue full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// runJournal records queued events one at a time, in emit order, until
// the queue is closed.
func (c *Controller) runJournal(queue <-chan model.Event) {
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := c.journal.Record(ctx, ev)
		cancel()
		if err != nil {
			c.logger.Warn("failed to journal event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func journaled(t model.EventType) bool {
	switch t {
	case model.EventTypeMessage, model.EventTypeDirective, model.EventTypeNotice, model.EventTypeReset:
		return true
	}
	return false
}
