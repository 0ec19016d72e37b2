package repository

import (
	"context"
	"fmt"

	"github.com/timmy/timecapsule/internal/domain"
	"gorm.io/gorm"
)

// GenerationRepository persists generation runs and their per-decade outputs.
type GenerationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository creates a new GenerationRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *GenerationRepository: repository instance bound to db.
func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// CreateRunWithOutputs inserts a run together with its output rows.
// Either every row is written or none is.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: run record to persist; its Outputs field is ignored.
//   - outputs: one row per decade, each carrying run.ID.
//
// Returns:
//   - error: non-nil if any insert fails.
func (r *GenerationRepository) CreateRunWithOutputs(ctx context.Context, run *domain.GenerationRun, outputs []domain.GenerationOutput) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Outputs").Create(run).Error; err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		if len(outputs) == 0 {
			return nil
		}
		if err := tx.Create(&outputs).Error; err != nil {
			return fmt.Errorf("failed to insert outputs: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run by ID with its outputs loaded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
//
// Returns:
//   - *domain.GenerationRun: run record if found.
//   - error: gorm.ErrRecordNotFound if absent, other non-nil on failure.
func (r *GenerationRepository) GetRun(ctx context.Context, id string) (*domain.GenerationRun, error) {
	var run domain.GenerationRun
	err := r.db.WithContext(ctx).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecentRuns returns the newest runs first, outputs included.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of runs.
//
// Returns:
//   - []domain.GenerationRun: runs ordered by created_at descending.
//   - error: non-nil if the query fails.
func (r *GenerationRepository) ListRecentRuns(ctx context.Context, limit int) ([]domain.GenerationRun, error) {
	var runs []domain.GenerationRun
	err := r.db.WithContext(ctx).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// CountRuns returns the total number of runs.
func (r *GenerationRepository) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.GenerationRun{}).Count(&count).Error
	return count, err
}

// UpdateRun applies column updates to a run. Nil values clear the column.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
//   - updates: column name to value.
//
// Returns:
//   - error: gorm.ErrRecordNotFound if no run matched.
func (r *GenerationRepository) UpdateRun(ctx context.Context, id string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&domain.GenerationRun{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetRunThumbnail records the run's thumbnail only if none is set yet.
// Returns:
//   - bool: true if this call set the thumbnail.
//   - error: non-nil if the update fails.
func (r *GenerationRepository) SetRunThumbnail(ctx context.Context, id, path string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.GenerationRun{}).
		Where("id = ? AND thumb_image_path IS NULL", id).
		Update("thumb_image_path", path)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateOutput applies column updates to the output for (runID, decade).
// Returns gorm.ErrRecordNotFound if no output matched.
func (r *GenerationRepository) UpdateOutput(ctx context.Context, runID string, decade domain.Decade, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&domain.GenerationOutput{}).
		Where("run_id = ? AND decade = ?", runID, decade).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRun removes a run and its outputs.
func (r *GenerationRepository) DeleteRun(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&domain.GenerationOutput{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.GenerationRun{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
