package repository

import (
	"examdesk_backend/internal/model"

	"gorm.io/gorm"
)

type ViolationRepository struct {
	DB *gorm.DB
}

func NewViolationRepository(db *gorm.DB) *ViolationRepository {
	return &ViolationRepository{DB: db}
}

// Append inserts one audit record. Violations are never updated or deleted.
func (r *ViolationRepository) Append(v *model.Violation) error {
	return r.DB.Create(v).Error
}

func (r *ViolationRepository) ListByAttempt(attemptID uint) ([]model.Violation, error) {
	var vs []model.Violation
	err := r.DB.Where("attempt_id = ?", attemptID).Order("occurred_at asc").Find(&vs).Error
	return vs, err
}

func (r *ViolationRepository) CountByAttemptAndType(attemptID uint, vtype model.ViolationType) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Violation{}).
		Where("attempt_id = ? AND type = ?", attemptID, vtype).Count(&count).Error
	return count, err
}
