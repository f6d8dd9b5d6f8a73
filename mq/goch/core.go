package goch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripsync/mq/mq"
)

const (
	// subscriberTimeout is how long the fan-out waits on a full subscriber before dropping it.
	subscriberTimeout = 200 * time.Millisecond
	// publishTimeout bounds how long Publish waits for room in the publish channel.
	publishTimeout = time.Second
)

type QueueError string

func (e QueueError) Error() string {
	return string(e)
}

const (
	ErrQueueFull   QueueError = "goch: message queue is full"
	ErrQueueClosed QueueError = "goch: message queue is stopped"
)

type subscriber[T any] struct {
	topic uuid.UUID
	ch    chan T
}

// fanOutQueueCore delivers every published item to all subscribers of its topic.
// A subscriber that stays full for subscriberTimeout is removed and its channel closed.
type fanOutQueueCore[T mq.TopicProvider] struct {
	publishChan chan T
	subscribers map[uuid.UUID]*subscriber[T]
	mu          sync.RWMutex
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	bufferSize  int
}

func newFanOutQueueCore[T mq.TopicProvider](bufferSize int) *fanOutQueueCore[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	core := &fanOutQueueCore[T]{
		publishChan: make(chan T, bufferSize),
		subscribers: make(map[uuid.UUID]*subscriber[T]),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		bufferSize:  bufferSize,
	}
	go core.fanOutRoutine()
	return core
}

func (c *fanOutQueueCore[T]) fanOutRoutine() {
	defer close(c.done)
	for {
		select {
		case item := <-c.publishChan:
			c.deliver(item)
		case <-c.quit:
			return
		}
	}
}

func (c *fanOutQueueCore[T]) deliver(item T) {
	topic := item.GetTopic()
	var blocked []uuid.UUID

	// senders hold the read lock so DeSubscribe cannot close a channel mid-send
	c.mu.RLock()
	for id, sub := range c.subscribers {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.ch <- item:
		case <-time.After(subscriberTimeout):
			blocked = append(blocked, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range blocked {
		slog.Warn("removing blocked subscriber", "subscriber", id, "topic", topic)
		_ = c.DeSubscribe(id)
	}
}

// Subscribe registers a new subscriber for topic.
func (c *fanOutQueueCore[T]) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan T, error) {
	id := uuid.New()
	sub := &subscriber[T]{topic: topic, ch: make(chan T, c.bufferSize)}

	c.mu.Lock()
	c.subscribers[id] = sub
	c.mu.Unlock()
	return id, sub.ch, nil
}

// DeSubscribe removes the subscriber and closes its channel.
func (c *fanOutQueueCore[T]) DeSubscribe(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscribers[id]
	if !ok {
		return fmt.Errorf("goch: subscriber with ID '%s' not found", id)
	}
	delete(c.subscribers, id)
	close(sub.ch)
	return nil
}

// Publish hands item to the fan-out routine, waiting at most publishTimeout.
func (c *fanOutQueueCore[T]) Publish(item T) error {
	select {
	case <-c.quit:
		return ErrQueueClosed
	default:
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case c.publishChan <- item:
		return nil
	case <-c.quit:
		return ErrQueueClosed
	case <-timer.C:
		return ErrQueueFull
	}
}

// Stop ends the fan-out routine. Subscriber channels stay open until DeSubscribe.
func (c *fanOutQueueCore[T]) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
}
