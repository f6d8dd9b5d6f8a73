package mq

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeGoChan    Mode = "go_chan"
	ModeRabbitMQ  Mode = "rabbitmq"
	ModeGCPPubSub Mode = "gcp_pub_sub"
)

type Action int

const (
	ActionPut Action = iota
	ActionDelete
	ActionCnt
)

func (a Action) String() string {
	switch a {
	case ActionPut:
		return "put"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// pathNamespace scopes the name-based topic ids derived from document paths.
var pathNamespace = uuid.MustParse("6f1c1f4e-3b1a-4d55-9a37-2b1f0c6d8e21")

// TopicForPath maps a document path to a stable topic id.
func TopicForPath(path string) uuid.UUID {
	return uuid.NewSHA1(pathNamespace, []byte(path))
}

// DocMessage announces a new state of one document.
type DocMessage struct {
	Path      string          `json:"path"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data,omitempty"`
	Action    Action          `json:"action"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (m DocMessage) GetTopic() uuid.UUID {
	return TopicForPath(m.Path)
}
