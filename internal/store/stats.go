package store

import (
	"encoding/json"
	"fmt"

	"github.com/hxat/annostore/internal/models"
	"github.com/hxat/annostore/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mutation actions recognized by the accumulator.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// StatsAccumulator maintains per-user totals of annotations and comments,
// scoped by course, collection and document. It consumes backend response
// bodies after successful writes, so it works identically over both
// backends.
type StatsAccumulator struct {
	db      *gorm.DB
	enabled bool
	logger  *zap.Logger
}

// NewStatsAccumulator builds an accumulator. When disabled, Update is a
// no-op.
func NewStatsAccumulator(db *gorm.DB, enabled bool, logger *zap.Logger) *StatsAccumulator {
	return &StatsAccumulator{db: db, enabled: enabled, logger: logger}
}

// statsEnvelope is what the accumulator needs out of a backend response.
type statsEnvelope struct {
	ContextID    string `json:"contextId"`
	CollectionID string `json:"collectionId"`
	URI          string `json:"uri"`
	Media        string `json:"media"`
	User         struct {
		ID   types.FlexString `json:"id"`
		Name string           `json:"name"`
	} `json:"user"`
}

// Update adjusts the caller's totals after a successful backend write.
// Creates add one, deletes subtract one, updates only ensure the stats row
// exists. A response body the accumulator cannot interpret is an error:
// the write already happened, so the totals are now inconsistent and the
// caller must surface that.
func (s *StatsAccumulator) Update(action string, responseBody []byte) error {
	if !s.enabled {
		return nil
	}
	switch action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return nil
	}

	var env statsEnvelope
	if err := json.Unmarshal(responseBody, &env); err != nil {
		return fmt.Errorf("stats update after %s: unreadable backend response: %w", action, err)
	}
	if env.ContextID == "" || env.User.ID.String() == "" {
		return fmt.Errorf("stats update after %s: backend response missing contextId or user id", action)
	}

	s.logger.Info("updating user stats",
		zap.String("action", action),
		zap.String("context_id", env.ContextID),
		zap.String("user_id", env.User.ID.String()))

	var stats models.UserStats
	cond := map[string]interface{}{
		"context_id":    env.ContextID,
		"collection_id": env.CollectionID,
		"uri":           env.URI,
		"user_id":       env.User.ID.String(),
		"user_name":     env.User.Name,
	}
	if err := s.db.Where(cond).FirstOrCreate(&stats).Error; err != nil {
		return fmt.Errorf("stats update after %s: %w", action, err)
	}

	var delta int
	switch action {
	case ActionCreate:
		delta = 1
	case ActionDelete:
		delta = -1
	default:
		return nil
	}

	column := "total_annotations"
	if env.Media == "comment" {
		column = "total_comments"
	}

	// relative update, concurrent writers must not clobber each other
	if err := s.db.Model(&models.UserStats{}).
		Where("id = ?", stats.ID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error; err != nil {
		return fmt.Errorf("stats update after %s: %w", action, err)
	}
	return nil
}
