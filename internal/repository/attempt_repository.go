package repository

import (
	"examdesk_backend/internal/model"

	"gorm.io/gorm"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Create(attempt *model.TestAttempt) error {
	return r.DB.Create(attempt).Error
}

// Update applies a partial column update to an attempt.
func (r *AttemptRepository) Update(attemptID uint, fields map[string]interface{}) error {
	return r.DB.Model(&model.TestAttempt{}).Where("id = ?", attemptID).Updates(fields).Error
}

func (r *AttemptRepository) FindByID(id uint) (*model.TestAttempt, error) {
	var a model.TestAttempt
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindInProgress returns the single open attempt for a (test, user) pair, or
// gorm.ErrRecordNotFound. Start resumes this row instead of creating another.
func (r *AttemptRepository) FindInProgress(testID, userID uint) (*model.TestAttempt, error) {
	var a model.TestAttempt
	err := r.DB.Where("test_id = ? AND user_id = ? AND status = ?",
		testID, userID, model.AttemptInProgress).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) CountByUserAndTest(userID, testID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.TestAttempt{}).
		Where("user_id = ? AND test_id = ?", userID, testID).Count(&count).Error
	return count, err
}

func (r *AttemptRepository) ListByUser(userID uint, page, limit int) ([]model.TestAttempt, int64, error) {
	var attempts []model.TestAttempt
	var total int64

	query := r.DB.Model(&model.TestAttempt{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&attempts).Error
	return attempts, total, err
}

func (r *AttemptRepository) ListByTest(testID uint, page, limit int) ([]model.TestAttempt, int64, error) {
	var attempts []model.TestAttempt
	var total int64

	query := r.DB.Model(&model.TestAttempt{}).Where("test_id = ?", testID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&attempts).Error
	return attempts, total, err
}

// ListFlagged returns attempts marked for integrity review.
func (r *AttemptRepository) ListFlagged(page, limit int) ([]model.TestAttempt, int64, error) {
	var attempts []model.TestAttempt
	var total int64

	query := r.DB.Model(&model.TestAttempt{}).Where("flagged = ?", true)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("updated_at desc").Offset(offset).Limit(limit).Find(&attempts).Error
	return attempts, total, err
}
