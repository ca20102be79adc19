package models

import "time"

// UserStats accumulates per-user annotation activity for a resource.
// Keyed by (context, collection, uri, user); created lazily on the first
// qualifying create/delete action. Counters are only ever adjusted with
// relative database expressions.
type UserStats struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement"`
	ContextID        string `gorm:"size:255;not null;index"`
	CollectionID     string `gorm:"size:255;not null"`
	URI              string `gorm:"size:2048;not null"`
	UserID           string `gorm:"size:255;not null;index"`
	UserName         string `gorm:"size:255;not null"`
	TotalAnnotations int64  `gorm:"not null;default:0"`
	TotalComments    int64  `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName overrides the table name for UserStats
func (UserStats) TableName() string {
	return "user_stats"
}
