package models

import (
	"time"
)

// Annotation represents a stored student annotation. The canonical payload
// received from the annotator client is preserved verbatim in JSON so the
// external representation can be reconstructed; the remaining columns are
// projections used for search and access control.
type Annotation struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	ContextID     string  `gorm:"size:255;not null;index"`
	CollectionID  string  `gorm:"size:255;not null;index"`
	URI           string  `gorm:"size:2048;not null"`
	Media         string  `gorm:"size:64;not null"`
	UserID        string  `gorm:"size:255;not null;index"`
	UserName      string  `gorm:"size:255;not null"`
	IsPrivate     bool    `gorm:"not null;default:false"`
	Text          string  `gorm:"type:text"`
	Quote         string  `gorm:"type:text"`
	JSON          JSON    `gorm:"type:json"`
	ParentID      *uint64 `gorm:"index"`
	TotalComments uint64  `gorm:"not null;default:0"`
	IsDeleted     bool    `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Tags          []AnnotationTag `gorm:"many2many:annotation_tag_links;"`
}

// AnnotationTag is a unique, trimmed tag name shared across annotations.
type AnnotationTag struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;size:255;not null"`
	CreatedAt time.Time
}

// TableName overrides the table name for Annotation
func (Annotation) TableName() string {
	return "annotations"
}

// TableName overrides the table name for AnnotationTag
func (AnnotationTag) TableName() string {
	return "annotation_tags"
}
