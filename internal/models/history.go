package models

import (
	"time"
)

type HistoryEvent string

const (
	HistoryCreated         HistoryEvent = "created"
	HistorySigned          HistoryEvent = "signed"
	HistoryDeployed        HistoryEvent = "deployed"
	HistoryActivated       HistoryEvent = "activated"
	HistoryDepositPaid     HistoryEvent = "deposit_paid"
	HistoryCompleted       HistoryEvent = "completed"
	HistoryCancelled       HistoryEvent = "cancelled"
	HistoryExtended        HistoryEvent = "extended"
	HistoryDisputed        HistoryEvent = "disputed"
	HistoryDisputeResolved HistoryEvent = "dispute_resolved"
	HistoryReopened        HistoryEvent = "reopened"
	HistorySynced          HistoryEvent = "synced"
)

// SystemActor marks history entries written by the reconciler rather
// than a user request.
const SystemActor uint = 0

// ContractHistory is the sole audit trail for contract state transitions.
// Rows are append-only: never updated, never deleted, written inside the
// same database transaction as the transition they record.
type ContractHistory struct {
	ID          uint         `gorm:"primarykey" json:"id"`
	ContractID  uint         `gorm:"not null;index" json:"contract_id"`
	Actor       uint         `gorm:"not null" json:"actor"`
	EventType   HistoryEvent `gorm:"type:varchar(30);not null;index" json:"event_type"`
	Description string       `gorm:"type:text" json:"description"`
	OldValue    string       `gorm:"type:varchar(100)" json:"old_value,omitempty"`
	NewValue    string       `gorm:"type:varchar(100)" json:"new_value,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`

	Contract Contract `gorm:"foreignKey:ContractID" json:"-"`
}

func (ContractHistory) TableName() string {
	return "contract_history"
}
