package pg

import (
	"time"
)

type DocumentModel struct {
	Path    string `gorm:"size:512;primaryKey"`
	Version int64  `gorm:"not null"`
	Data    []byte `gorm:"type:jsonb;not null"`
	// meta data
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for DocumentModel.
func (DocumentModel) TableName() string {
	return "documents"
}
