package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"veriledger/internal/domain"

	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, issuance domain.CredentialIssuance) (domain.CredentialIssuance, error) {
	if r.db == nil {
		return domain.CredentialIssuance{}, errDBUnavailable
	}
	holders, err := json.Marshal(issuance.Holders)
	if err != nil {
		return domain.CredentialIssuance{}, err
	}
	leaves, err := json.Marshal(issuance.Leaves)
	if err != nil {
		return domain.CredentialIssuance{}, err
	}
	model := CredentialIssuanceModel{
		ID:          issuance.ID,
		Root:        issuance.Root,
		Holders:     holders,
		Leaves:      leaves,
		Salt:        issuance.Salt,
		Status:      string(issuance.Status),
		EventID:     issuance.EventID,
		ProofStatus: string(issuance.ProofStatus),
		CreatedAt:   issuance.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.CredentialIssuance{}, err
	}
	return credentialToDomain(model)
}

func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*domain.CredentialIssuance, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model CredentialIssuanceModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	issuance, err := credentialToDomain(model)
	if err != nil {
		return nil, err
	}
	return &issuance, nil
}

func (r *CredentialRepository) ListActive(ctx context.Context) ([]domain.CredentialIssuance, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CredentialIssuanceModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.CredentialStatusActive)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	issuances := make([]domain.CredentialIssuance, 0, len(models))
	for _, m := range models {
		issuance, err := credentialToDomain(m)
		if err != nil {
			return nil, err
		}
		issuances = append(issuances, issuance)
	}
	return issuances, nil
}

func (r *CredentialRepository) SetStatus(ctx context.Context, id string, status domain.CredentialStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&CredentialIssuanceModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

func (r *CredentialRepository) MarkVerifiedByEventIDs(ctx context.Context, eventIDs []string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if len(eventIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&CredentialIssuanceModel{}).
		Where("event_id IN ?", eventIDs).
		Update("proof_status", string(domain.ProofStatusVerified)).Error
}

func credentialToDomain(model CredentialIssuanceModel) (domain.CredentialIssuance, error) {
	var holders, leaves []string
	if len(model.Holders) > 0 {
		if err := json.Unmarshal(model.Holders, &holders); err != nil {
			return domain.CredentialIssuance{}, err
		}
	}
	if len(model.Leaves) > 0 {
		if err := json.Unmarshal(model.Leaves, &leaves); err != nil {
			return domain.CredentialIssuance{}, err
		}
	}
	return domain.CredentialIssuance{
		ID:          model.ID,
		Root:        model.Root,
		Holders:     holders,
		Leaves:      leaves,
		Salt:        model.Salt,
		Status:      domain.CredentialStatus(model.Status),
		EventID:     model.EventID,
		ProofStatus: domain.ProofStatus(model.ProofStatus),
		CreatedAt:   model.CreatedAt,
	}, nil
}
