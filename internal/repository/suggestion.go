package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// SuggestionRepository persists follow-up suggestions per assistant reply.
type SuggestionRepository struct {
	db *gorm.DB
}

// NewSuggestionRepository creates a suggestion repository.
func NewSuggestionRepository(db *gorm.DB) *SuggestionRepository {
	return &SuggestionRepository{db: db}
}

// Save replaces the suggestions stored for an assistant reply.
func (r *SuggestionRepository) Save(ctx context.Context, responseID string, suggestions []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dwight_response_id = ?", responseID).Delete(&suggestionRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear suggestions: %w", err)
		}

		rows := make([]suggestionRow, len(suggestions))
		for i, text := range suggestions {
			rows[i] = suggestionRow{
				CoachResponseID: responseID,
				SuggestionText:  text,
			}
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to save suggestions: %w", err)
		}
		return nil
	})
}
