package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ask-dwight/coach-platform/internal/model"
)

// FeedbackRepository persists thumbs_up / thumbs_down reactions per
// assistant reply. One reaction per reply; re-reacting overwrites.
type FeedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository creates a feedback repository.
func NewFeedbackRepository(db *gorm.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// SaveReaction upserts the reaction for an assistant reply.
func (r *FeedbackRepository) SaveReaction(ctx context.Context, responseID string, reaction model.Reaction) error {
	row := feedbackRow{
		CoachResponseID: responseID,
		Reaction:        string(reaction),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dwight_response_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reaction", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save reaction: %w", err)
	}
	return nil
}
