package goch

import (
	"github.com/google/uuid"

	"tripsync/mq/mq"
)

// ChannelDocMessageQueue implements mq.DocMessageQueue in process with Go channels.
type ChannelDocMessageQueue struct {
	core *fanOutQueueCore[mq.DocMessage]
}

// NewChannelDocMessageQueue creates a queue whose publish and subscriber channels
// hold bufferSize messages.
func NewChannelDocMessageQueue(bufferSize int) *ChannelDocMessageQueue {
	return &ChannelDocMessageQueue{core: newFanOutQueueCore[mq.DocMessage](bufferSize)}
}

func (q *ChannelDocMessageQueue) Publish(msg mq.DocMessage) error {
	return q.core.Publish(msg)
}

func (q *ChannelDocMessageQueue) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan mq.DocMessage, error) {
	return q.core.Subscribe(topic)
}

func (q *ChannelDocMessageQueue) DeSubscribe(id uuid.UUID) error {
	return q.core.DeSubscribe(id)
}

func (q *ChannelDocMessageQueue) Stop() {
	q.core.Stop()
}

func (q *ChannelDocMessageQueue) Close() {
	q.core.Stop()
}
