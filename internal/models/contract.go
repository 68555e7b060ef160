package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractPending   ContractStatus = "pending"
	ContractSigned    ContractStatus = "signed"
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
	ContractDisputed  ContractStatus = "disputed"
	ContractExpired   ContractStatus = "expired"
)

type ContractPaymentStatus string

const (
	PaymentUnpaid   ContractPaymentStatus = "unpaid"
	PaymentPartial  ContractPaymentStatus = "partial"
	PaymentPaid     ContractPaymentStatus = "paid"
	PaymentRefunded ContractPaymentStatus = "refunded"
)

// SettlementMode records which path complete/cancel take. It is fixed at
// deploy time; a contract that was never deployed settles locally.
type SettlementMode string

const (
	SettleLocal SettlementMode = "local"
	SettleChain SettlementMode = "chain"
)

type Contract struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	TenantID uint      `gorm:"not null;index" json:"tenant_id"`
	OwnerID  uint      `gorm:"not null;index" json:"owner_id"`
	ItemID   uuid.UUID `gorm:"type:uuid;not null;index" json:"item_id"`

	StartDate time.Time `gorm:"not null" json:"start_date"`
	EndDate   time.Time `gorm:"not null" json:"end_date"`

	TotalPrice float64 `gorm:"not null" json:"total_price"`
	Deposit    float64 `gorm:"not null" json:"deposit"`
	Currency   string  `gorm:"type:varchar(10);not null;default:'ETH'" json:"currency"`

	Terms             string `gorm:"type:text" json:"terms,omitempty"`
	SpecialConditions string `gorm:"type:text" json:"special_conditions,omitempty"`

	Status ContractStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	TenantSignature string     `gorm:"type:text" json:"tenant_signature,omitempty"`
	OwnerSignature  string     `gorm:"type:text" json:"owner_signature,omitempty"`
	TenantSignedAt  *time.Time `json:"tenant_signed_at,omitempty"`
	OwnerSignedAt   *time.Time `json:"owner_signed_at,omitempty"`

	// Chain fields, nil/zero until the escrow is deployed
	ContractAddress *string        `gorm:"type:varchar(42);uniqueIndex" json:"contract_address,omitempty"`
	TransactionHash string         `gorm:"type:varchar(66)" json:"transaction_hash,omitempty"`
	BlockNumber     uint64         `json:"block_number,omitempty"`
	SettlementMode  SettlementMode `gorm:"type:varchar(10);not null;default:'local'" json:"settlement_mode"`

	PaymentStatus ContractPaymentStatus `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment_status"`
	PaidAmount    float64               `gorm:"default:0" json:"paid_amount"`
	DepositPaid   bool                  `gorm:"default:false" json:"deposit_paid"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy *uint      `json:"completed_by,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *uint      `json:"cancelled_by,omitempty"`
	CancellationReason string     `gorm:"type:text" json:"cancellation_reason,omitempty"`

	// Set once, on the first extension only
	OriginalEndDate *time.Time `json:"original_end_date,omitempty"`
	ExtensionCount  int        `gorm:"default:0" json:"extension_count"`

	Metadata string `gorm:"type:json" json:"metadata,omitempty"`

	// Optimistic guard for concurrent signing on dialects without row locks
	Version uint `gorm:"not null;default:1" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Tenant   User              `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	Owner    User              `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Item     Item              `gorm:"foreignKey:ItemID" json:"item,omitempty"`
	Payments []Payment         `gorm:"foreignKey:ContractID" json:"payments,omitempty"`
	Disputes []Dispute         `gorm:"foreignKey:ContractID" json:"disputes,omitempty"`
	History  []ContractHistory `gorm:"foreignKey:ContractID" json:"history,omitempty"`
}

func (Contract) TableName() string {
	return "contracts"
}

// IsParty reports whether userID is the tenant or the owner of this contract.
func (c *Contract) IsParty(userID uint) bool {
	return c.TenantID == userID || c.OwnerID == userID
}

// HasSigned reports whether the given party has already signed.
func (c *Contract) HasSigned(userID uint) bool {
	if c.TenantID == userID {
		return c.TenantSignature != ""
	}
	if c.OwnerID == userID {
		return c.OwnerSignature != ""
	}
	return false
}

// BothSigned is the signature gate: both parties must have signed,
// in either order, before deployment is permitted.
func (c *Contract) BothSigned() bool {
	return c.TenantSignature != "" && c.OwnerSignature != ""
}

// IsDeployed reports whether an on-chain escrow backs this contract.
func (c *Contract) IsDeployed() bool {
	return c.ContractAddress != nil && *c.ContractAddress != ""
}

// IsTerminal reports whether the contract reached a final state.
func (c *Contract) IsTerminal() bool {
	switch c.Status {
	case ContractCompleted, ContractCancelled, ContractExpired:
		return true
	}
	return false
}

// CounterpartyOf returns the other party of the rental relationship.
func (c *Contract) CounterpartyOf(userID uint) uint {
	if c.TenantID == userID {
		return c.OwnerID
	}
	return c.TenantID
}
