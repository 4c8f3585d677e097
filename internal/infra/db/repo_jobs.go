package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"veriledger/internal/domain"

	"gorm.io/gorm"
)

type ProverJobRepository struct {
	db *gorm.DB
}

func NewProverJobRepository(db *gorm.DB) *ProverJobRepository {
	return &ProverJobRepository{db: db}
}

func (r *ProverJobRepository) Create(ctx context.Context, job domain.ProverJob) (domain.ProverJob, error) {
	if r.db == nil {
		return domain.ProverJob{}, errDBUnavailable
	}
	witness, err := json.Marshal(job.WitnessData)
	if err != nil {
		return domain.ProverJob{}, err
	}
	now := time.Now().UTC()
	model := ProverJobModel{
		ID:          job.ID,
		TargetType:  string(job.TargetType),
		TargetID:    job.TargetID,
		Circuit:     job.Circuit,
		WitnessJSON: witness,
		Status:      string(job.Status),
		Priority:    job.Priority,
		RetryCount:  job.RetryCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ProverJob{}, err
	}
	return jobToDomain(model)
}

func (r *ProverJobRepository) GetByID(ctx context.Context, id string) (*domain.ProverJob, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ProverJobModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job, err := jobToDomain(model)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *ProverJobRepository) FindActive(ctx context.Context, targetID, circuit string) (*domain.ProverJob, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ProverJobModel
	err := r.db.WithContext(ctx).
		Where("target_id = ? AND circuit = ? AND status NOT IN ?",
			targetID, circuit,
			[]string{string(domain.JobStatusFailed), string(domain.JobStatusCancelled)}).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	job, err := jobToDomain(model)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *ProverJobRepository) ListPending(ctx context.Context) ([]domain.ProverJob, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ProverJobModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.JobStatusPending)).
		Order("priority DESC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.ProverJob, 0, len(models))
	for _, m := range models {
		job, err := jobToDomain(m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *ProverJobRepository) MarkVerified(ctx context.Context, id string, proofRef string) error {
	return r.update(ctx, id, map[string]any{
		"status":    string(domain.JobStatusVerified),
		"proof_ref": proofRef,
	})
}

func (r *ProverJobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.update(ctx, id, map[string]any{
		"status":     string(domain.JobStatusFailed),
		"last_error": reason,
	})
}

func (r *ProverJobRepository) ResetForRetry(ctx context.Context, id string) (*domain.ProverJob, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	err := r.db.WithContext(ctx).
		Model(&ProverJobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobStatusFailed)).
		Updates(map[string]any{
			"status":      string(domain.JobStatusPending),
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  "",
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *ProverJobRepository) update(ctx context.Context, id string, updates map[string]any) error {
	if r.db == nil {
		return errDBUnavailable
	}
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&ProverJobModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func jobToDomain(model ProverJobModel) (domain.ProverJob, error) {
	var witness map[string]any
	if len(model.WitnessJSON) > 0 {
		if err := json.Unmarshal(model.WitnessJSON, &witness); err != nil {
			return domain.ProverJob{}, err
		}
	}
	return domain.ProverJob{
		ID:          model.ID,
		TargetType:  domain.JobTargetType(model.TargetType),
		TargetID:    model.TargetID,
		Circuit:     model.Circuit,
		WitnessData: witness,
		Status:      domain.JobStatus(model.Status),
		Priority:    model.Priority,
		RetryCount:  model.RetryCount,
		ProofRef:    model.ProofRef,
		LastError:   model.LastError,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}, nil
}
