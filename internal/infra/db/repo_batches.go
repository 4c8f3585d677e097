package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"veriledger/internal/domain"

	"gorm.io/gorm"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	if r.db == nil {
		return domain.Batch{}, errDBUnavailable
	}
	eventIDs, err := json.Marshal(batch.EventIDs)
	if err != nil {
		return domain.Batch{}, err
	}
	model := BatchModel{
		ID:            batch.ID,
		EventIDs:      eventIDs,
		PrestateRoot:  batch.PrestateRoot,
		PoststateRoot: batch.PoststateRoot,
		Status:        string(batch.Status),
		ProofJobID:    batch.ProofJobID,
		AnchorTx:      batch.AnchorTx,
		CreatedAt:     batch.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Batch{}, err
	}
	return batchToDomain(model)
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model BatchModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	batch, err := batchToDomain(model)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *BatchRepository) FindByEventID(ctx context.Context, eventID string) (*domain.Batch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	marshaled, err := json.Marshal(eventID)
	if err != nil {
		return nil, err
	}
	var model BatchModel
	err = r.db.WithContext(ctx).
		Where("event_ids @> ?", string(marshaled)).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	batch, err := batchToDomain(model)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *BatchRepository) LatestAnchored(ctx context.Context) (*domain.Batch, error) {
	return r.firstWhere(ctx, "status = ?", string(domain.BatchStatusAnchored), "created_at DESC")
}

func (r *BatchRepository) ListPending(ctx context.Context) ([]domain.Batch, error) {
	return r.listByStatus(ctx, domain.BatchStatusPending)
}

func (r *BatchRepository) ListProving(ctx context.Context) ([]domain.Batch, error) {
	return r.listByStatus(ctx, domain.BatchStatusProving)
}

func (r *BatchRepository) listByStatus(ctx context.Context, status domain.BatchStatus) ([]domain.Batch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	batches := make([]domain.Batch, 0, len(models))
	for _, model := range models {
		batch, err := batchToDomain(model)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (r *BatchRepository) firstWhere(ctx context.Context, query string, arg any, order string) (*domain.Batch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model BatchModel
	err := r.db.WithContext(ctx).Where(query, arg).Order(order).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	batch, err := batchToDomain(model)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *BatchRepository) SetStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

func (r *BatchRepository) SetProving(ctx context.Context, id string, jobID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       string(domain.BatchStatusProving),
			"proof_job_id": jobID,
		}).Error
}

func (r *BatchRepository) SetAnchored(ctx context.Context, id string, anchorTx string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	updates := map[string]any{"status": string(domain.BatchStatusAnchored)}
	if anchorTx != "" {
		updates["anchor_tx"] = anchorTx
	}
	return r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func batchToDomain(model BatchModel) (domain.Batch, error) {
	var eventIDs []string
	if len(model.EventIDs) > 0 {
		if err := json.Unmarshal(model.EventIDs, &eventIDs); err != nil {
			return domain.Batch{}, err
		}
	}
	return domain.Batch{
		ID:            model.ID,
		EventIDs:      eventIDs,
		PrestateRoot:  model.PrestateRoot,
		PoststateRoot: model.PoststateRoot,
		Status:        domain.BatchStatus(model.Status),
		ProofJobID:    model.ProofJobID,
		AnchorTx:      model.AnchorTx,
		CreatedAt:     model.CreatedAt,
	}, nil
}
