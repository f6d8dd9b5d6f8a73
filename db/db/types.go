package db

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("db: document not found")
	ErrVersionConflict = errors.New("db: document version conflict")
)

// Document is one whole JSON document stored under a hierarchical path such as
// "users/{uid}/expenses". Version starts at 1 and grows by one on every write.
type Document struct {
	Path      string
	Version   int64
	Data      []byte
	UpdatedAt time.Time
}

// Clone copies the data slice so the caller owns the result.
func (d Document) Clone() Document {
	out := d
	if d.Data != nil {
		out.Data = append([]byte(nil), d.Data...)
	}
	return out
}
