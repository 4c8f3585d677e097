package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"veriledger/internal/domain"

	"gorm.io/gorm"
)

type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

func (r *BlockRepository) CreateWithEvents(ctx context.Context, block domain.Block) (domain.Block, error) {
	if r.db == nil {
		return domain.Block{}, errDBUnavailable
	}
	eventIDs, err := json.Marshal(block.EventIDs)
	if err != nil {
		return domain.Block{}, err
	}
	model := BlockModel{
		ID:               block.ID,
		Index:            block.Index,
		PrevHash:         block.PrevHash,
		Hash:             block.Hash,
		CanonicalPayload: block.CanonicalPayload,
		MerkleRoot:       block.MerkleRoot,
		EventIDs:         eventIDs,
		CreatedAt:        block.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&EventModel{}).
			Where("id IN ?", block.EventIDs).
			Update("block_id", model.ID).Error
	})
	if err != nil {
		return domain.Block{}, err
	}
	return blockToDomain(model)
}

func (r *BlockRepository) Latest(ctx context.Context) (*domain.Block, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model BlockModel
	err := r.db.WithContext(ctx).Order("block_index DESC").First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	block, err := blockToDomain(model)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *BlockRepository) Page(ctx context.Context, fromIndex int64, limit int) ([]domain.Block, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []BlockModel
	err := r.db.WithContext(ctx).
		Where("block_index >= ?", fromIndex).
		Order("block_index ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	blocks := make([]domain.Block, 0, len(models))
	for _, m := range models {
		block, err := blockToDomain(m)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (r *BlockRepository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&BlockModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func blockToDomain(model BlockModel) (domain.Block, error) {
	var eventIDs []string
	if len(model.EventIDs) > 0 {
		if err := json.Unmarshal(model.EventIDs, &eventIDs); err != nil {
			return domain.Block{}, err
		}
	}
	return domain.Block{
		ID:               model.ID,
		Index:            model.Index,
		PrevHash:         model.PrevHash,
		Hash:             model.Hash,
		CanonicalPayload: model.CanonicalPayload,
		MerkleRoot:       model.MerkleRoot,
		EventIDs:         eventIDs,
		CreatedAt:        model.CreatedAt,
	}, nil
}
