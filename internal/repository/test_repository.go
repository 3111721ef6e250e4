package repository

import (
	"examdesk_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type TestRepository struct {
	DB *gorm.DB
}

func NewTestRepository(db *gorm.DB) *TestRepository {
	return &TestRepository{DB: db}
}

func (r *TestRepository) Create(test *model.Test) error {
	return r.DB.Create(test).Error
}

func (r *TestRepository) Update(test *model.Test) error {
	return r.DB.Save(test).Error
}

func (r *TestRepository) Delete(id uint) error {
	return r.DB.Delete(&model.Test{}, id).Error
}

func (r *TestRepository) FindByID(id uint) (*model.Test, error) {
	var t model.Test
	if err := r.DB.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TestRepository) FindPublishedByID(id uint) (*model.Test, error) {
	var t model.Test
	err := r.DB.Where("id = ? AND is_published = ?", id, true).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TestRepository) List(subjectID uint, publishedOnly bool, page, limit int) ([]model.Test, int64, error) {
	var tests []model.Test
	var total int64

	query := r.DB.Model(&model.Test{})
	if subjectID > 0 {
		query = query.Where("subject_id = ?", subjectID)
	}
	if publishedOnly {
		query = query.Where("is_published = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&tests).Error
	return tests, total, err
}

func (r *TestRepository) SetPublished(id uint, published bool) error {
	updates := map[string]interface{}{"is_published": published}
	if published {
		now := time.Now()
		updates["published_at"] = &now
	}
	return r.DB.Model(&model.Test{}).Where("id = ?", id).Updates(updates).Error
}

// RefreshDerivedCounts recomputes question count and total marks from the
// question bank. Called after mentors add, edit or remove questions.
func (r *TestRepository) RefreshDerivedCounts(testID uint) error {
	var count int64
	var totalMarks float64

	if err := r.DB.Model(&model.Question{}).Where("test_id = ?", testID).Count(&count).Error; err != nil {
		return err
	}
	row := r.DB.Model(&model.Question{}).Where("test_id = ?", testID).
		Select("COALESCE(SUM(marks), 0)").Row()
	if err := row.Scan(&totalMarks); err != nil {
		return err
	}

	return r.DB.Model(&model.Test{}).Where("id = ?", testID).Updates(map[string]interface{}{
		"question_count": count,
		"total_marks":    totalMarks,
	}).Error
}
