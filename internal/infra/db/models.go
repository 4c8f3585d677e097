package db

import "time"

type EventModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	Type        string    `gorm:"index;not null"`
	PayloadJSON []byte    `gorm:"column:payload;type:jsonb;not null"`
	Commitments []byte    `gorm:"type:jsonb"`
	Nullifiers  []byte    `gorm:"type:jsonb"`
	Signer      string    `gorm:"index;not null"`
	Signature   string    `gorm:"not null"`
	LeafHash    string    `gorm:"index;not null"`
	ProofStatus string    `gorm:"index;not null"`
	BlockID     *string   `gorm:"type:uuid;index"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (EventModel) TableName() string {
	return "events"
}

type BlockModel struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	Index            int64     `gorm:"column:block_index;uniqueIndex;not null"`
	PrevHash         string    `gorm:"not null"`
	Hash             string    `gorm:"index;not null"`
	CanonicalPayload []byte    `gorm:"type:bytea;not null"`
	MerkleRoot       string    `gorm:"not null"`
	EventIDs         []byte    `gorm:"column:event_ids;type:jsonb;not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (BlockModel) TableName() string {
	return "blocks"
}

type BatchModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	EventIDs      []byte  `gorm:"column:event_ids;type:jsonb;not null"`
	PrestateRoot  string  `gorm:"not null"`
	PoststateRoot string  `gorm:"not null"`
	Status        string  `gorm:"index;not null"`
	ProofJobID    *string `gorm:"type:uuid;index"`
	AnchorTx      *string
	CreatedAt     time.Time `gorm:"index;not null"`
}

func (BatchModel) TableName() string {
	return "batches"
}

type ProverJobModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	TargetType  string `gorm:"not null"`
	TargetID    string `gorm:"index:idx_jobs_target_circuit;not null"`
	Circuit     string `gorm:"index:idx_jobs_target_circuit;not null"`
	WitnessJSON []byte `gorm:"column:witness_data;type:jsonb"`
	Status      string `gorm:"index;not null"`
	Priority    int    `gorm:"not null"`
	RetryCount  int    `gorm:"not null"`
	ProofRef    string
	LastError   string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (ProverJobModel) TableName() string {
	return "prover_jobs"
}

type CredentialIssuanceModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	Root        string    `gorm:"index;not null"`
	Holders     []byte    `gorm:"type:jsonb;not null"`
	Leaves      []byte    `gorm:"type:jsonb;not null"`
	Salt        string    `gorm:"not null"`
	Status      string    `gorm:"index;not null"`
	EventID     *string   `gorm:"type:uuid;index"`
	ProofStatus string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (CredentialIssuanceModel) TableName() string {
	return "credential_issuances"
}
