package models

import (
	"time"

	"gorm.io/gorm"
)

type DisputeStatus string
type DisputeReason string

const (
	DisputeOpen          DisputeStatus = "open"
	DisputeInvestigating DisputeStatus = "investigating"
	DisputeResolved      DisputeStatus = "resolved"
	DisputeClosed        DisputeStatus = "closed"
)

const (
	ReasonItemDamaged     DisputeReason = "item_damaged"
	ReasonItemNotAsAgreed DisputeReason = "item_not_as_agreed"
	ReasonLateReturn      DisputeReason = "late_return"
	ReasonPaymentIssue    DisputeReason = "payment_issue"
	ReasonOther           DisputeReason = "other"
)

// Dispute belongs to one contract. At most one dispute with status
// open/investigating may exist per contract at any time; the service
// enforces this under the contract row lock.
type Dispute struct {
	ID          uint          `gorm:"primarykey" json:"id"`
	ContractID  uint          `gorm:"not null;index" json:"contract_id"`
	RaisedBy    uint          `gorm:"not null;index" json:"raised_by"`
	Reason      DisputeReason `gorm:"type:varchar(50);not null" json:"reason"`
	Description string        `gorm:"type:text;not null" json:"description"`
	Evidence    string        `gorm:"type:json" json:"evidence,omitempty"`
	Status      DisputeStatus `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`

	AssignedTo *uint  `gorm:"index" json:"assigned_to,omitempty"`
	Resolution string `gorm:"type:text" json:"resolution,omitempty"`

	CompensationAmount float64 `gorm:"default:0" json:"compensation_amount"`
	CompensationTo     *uint   `json:"compensation_to,omitempty"`

	ResolvedBy *uint      `gorm:"index" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Contract Contract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`
	User     User     `gorm:"foreignKey:RaisedBy" json:"user,omitempty"`
}

func (Dispute) TableName() string {
	return "disputes"
}

// IsActive reports whether this dispute still blocks a new one.
func (d *Dispute) IsActive() bool {
	return d.Status == DisputeOpen || d.Status == DisputeInvestigating
}
