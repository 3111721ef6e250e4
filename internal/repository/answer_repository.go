package repository

import (
	"examdesk_backend/internal/model"

	"gorm.io/gorm"
)

type AnswerRepository struct {
	DB *gorm.DB
}

func NewAnswerRepository(db *gorm.DB) *AnswerRepository {
	return &AnswerRepository{DB: db}
}

// Upsert writes an answer keyed on (attempt_id, question_id). Repeated saves
// of the same question converge to the latest value; the unique index backs
// this up against racing writers.
func (r *AnswerRepository) Upsert(answer *model.AttemptAnswer) error {
	var existing model.AttemptAnswer
	err := r.DB.Where("attempt_id = ? AND question_id = ?",
		answer.AttemptID, answer.QuestionID).First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}

	if existing.ID == 0 {
		return r.DB.Create(answer).Error
	}

	existing.SelectedOptions = answer.SelectedOptions
	existing.ValueText = answer.ValueText
	existing.MarkedForReview = answer.MarkedForReview
	existing.TimeSpentSeconds = answer.TimeSpentSeconds
	existing.IsCorrect = answer.IsCorrect
	existing.MarksObtained = answer.MarksObtained
	if err := r.DB.Save(&existing).Error; err != nil {
		return err
	}
	answer.ID = existing.ID
	return nil
}

func (r *AnswerRepository) ListByAttempt(attemptID uint) ([]model.AttemptAnswer, error) {
	var answers []model.AttemptAnswer
	err := r.DB.Where("attempt_id = ?", attemptID).Find(&answers).Error
	return answers, err
}
