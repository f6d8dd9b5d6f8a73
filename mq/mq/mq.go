package mq

import "github.com/google/uuid"

// TopicProvider is anything that can be routed by topic id.
type TopicProvider interface {
	GetTopic() uuid.UUID
}

// DocMessageQueue fans document changes out to subscribers of one topic.
type DocMessageQueue interface {
	Publish(msg DocMessage) error
	Subscribe(topic uuid.UUID) (uuid.UUID, <-chan DocMessage, error)
	DeSubscribe(id uuid.UUID) error
	Close()
}
