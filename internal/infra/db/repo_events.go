package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veriledger/internal/domain"

	"gorm.io/gorm"
)

// Listing filters are restricted to these fields and payload keys; anything
// else is rejected before a query is built.
var (
	allowedPayloadKeys = map[string]bool{
		"amount":    true,
		"asset":     true,
		"recipient": true,
		"reference": true,
		"round":     true,
	}
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event domain.Event) (domain.Event, error) {
	if r.db == nil {
		return domain.Event{}, errDBUnavailable
	}
	model, err := eventToModel(event)
	if err != nil {
		return domain.Event{}, err
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Event{}, err
	}
	return eventToDomain(model)
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model EventModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	event, err := eventToDomain(model)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var models []EventModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]EventModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	// Preserve requested order; a missing row is an integrity failure the
	// caller decides how to treat.
	events := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("event %s referenced but not found", id)
		}
		event, err := eventToDomain(m)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *EventRepository) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Model(&EventModel{})
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Signer != "" {
		q = q.Where("signer = ?", filter.Signer)
	}
	if filter.ProofStatus != "" {
		q = q.Where("proof_status = ?", string(filter.ProofStatus))
	}
	for key, value := range filter.Payload {
		if !allowedPayloadKeys[key] {
			return nil, fmt.Errorf("%w: payload.%s", domain.ErrFilterNotAllowed, key)
		}
		q = q.Where("payload ->> ? = ?", key, value)
	}
	var models []EventModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return eventsToDomain(models)
}

func (r *EventRepository) ListUnblocked(ctx context.Context, limit int) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("block_id IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return eventsToDomain(models)
}

func (r *EventRepository) ListUnbatched(ctx context.Context, limit int) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("proof_status = ?", string(domain.ProofStatusNone)).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return eventsToDomain(models)
}

func (r *EventRepository) SetProofStatus(ctx context.Context, ids []string, status domain.ProofStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id IN ?", ids).
		Update("proof_status", string(status)).Error
}

func eventToModel(event domain.Event) (EventModel, error) {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return EventModel{}, err
	}
	commitments, err := json.Marshal(event.Commitments)
	if err != nil {
		return EventModel{}, err
	}
	nullifiers, err := json.Marshal(event.Nullifiers)
	if err != nil {
		return EventModel{}, err
	}
	return EventModel{
		ID:          event.ID,
		Type:        event.Type,
		PayloadJSON: payloadJSON,
		Commitments: commitments,
		Nullifiers:  nullifiers,
		Signer:      event.Signer,
		Signature:   event.Signature,
		LeafHash:    event.LeafHash,
		ProofStatus: string(event.ProofStatus),
		BlockID:     event.BlockID,
		CreatedAt:   event.CreatedAt,
	}, nil
}

func eventToDomain(model EventModel) (domain.Event, error) {
	var payload map[string]any
	if len(model.PayloadJSON) > 0 {
		if err := json.Unmarshal(model.PayloadJSON, &payload); err != nil {
			return domain.Event{}, err
		}
	}
	var commitments, nullifiers []string
	if len(model.Commitments) > 0 {
		if err := json.Unmarshal(model.Commitments, &commitments); err != nil {
			return domain.Event{}, err
		}
	}
	if len(model.Nullifiers) > 0 {
		if err := json.Unmarshal(model.Nullifiers, &nullifiers); err != nil {
			return domain.Event{}, err
		}
	}
	return domain.Event{
		ID:          model.ID,
		Type:        model.Type,
		Payload:     payload,
		Commitments: commitments,
		Nullifiers:  nullifiers,
		Signer:      model.Signer,
		Signature:   model.Signature,
		LeafHash:    model.LeafHash,
		ProofStatus: domain.ProofStatus(model.ProofStatus),
		BlockID:     model.BlockID,
		CreatedAt:   model.CreatedAt,
	}, nil
}

func eventsToDomain(models []EventModel) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(models))
	for _, m := range models {
		event, err := eventToDomain(m)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
