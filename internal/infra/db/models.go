package db

import "time"

type IssuerModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	Position   int       `gorm:"uniqueIndex;not null"`
	Name       string    `gorm:"not null"`
	PublicKey  []byte    `gorm:"type:bytea;not null"`
	KeyID      string    `gorm:"index;not null"`
	PrivateKey []byte    `gorm:"type:bytea"`
	KeyAlg     string    `gorm:"not null;default:ed25519"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (IssuerModel) TableName() string { return "issuers" }

type SubjectModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Position  int       `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Surname   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SubjectModel) TableName() string { return "subjects" }

type CredentialModel struct {
	UUID      string    `gorm:"column:uuid;type:uuid;primaryKey"`
	Position  int       `gorm:"uniqueIndex;not null"`
	IssuerID  string    `gorm:"type:uuid;index;not null"`
	SubjectID string    `gorm:"type:uuid;index;not null"`
	Record    []byte    `gorm:"type:jsonb;not null"`
	ValidFrom time.Time `gorm:"not null"`
	ValidTo   *time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

type BlockModel struct {
	Height       int       `gorm:"primaryKey;autoIncrement:false"`
	Hash         []byte    `gorm:"type:bytea;uniqueIndex;not null"`
	PreviousHash []byte    `gorm:"type:bytea;not null"`
	SignerID     string    `gorm:"type:uuid;index;not null"`
	Timestamp    time.Time `gorm:"not null"`
	Record       []byte    `gorm:"type:jsonb;not null"`
}

func (BlockModel) TableName() string { return "blocks" }

// PendingBlockModel holds at most one row.
type PendingBlockModel struct {
	ID       int       `gorm:"primaryKey;autoIncrement:false"`
	SignerID string    `gorm:"type:uuid;not null"`
	OpenedAt time.Time `gorm:"not null"`
	Record   []byte    `gorm:"type:jsonb;not null"`
}

func (PendingBlockModel) TableName() string { return "pending_block" }

const pendingBlockRowID = 1
