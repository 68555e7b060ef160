package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentType string
type PaymentState string

const (
	PaymentRental  PaymentType = "rental"
	PaymentDeposit PaymentType = "deposit"
	PaymentPenalty PaymentType = "penalty"
	PaymentRefund  PaymentType = "refund"
)

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateConfirmed PaymentState = "confirmed"
	PaymentStateFailed    PaymentState = "failed"
)

// Payment is created only as the side effect of a chain-confirmed transfer
// or a manually recorded one; it is never the source of contract state.
type Payment struct {
	ID         uint         `gorm:"primarykey" json:"id"`
	ContractID uint         `gorm:"not null;index" json:"contract_id"`
	PayerID    uint         `gorm:"not null;index" json:"payer_id"`
	PayeeID    uint         `gorm:"index" json:"payee_id,omitempty"`
	Type       PaymentType  `gorm:"type:varchar(20);not null" json:"type"`
	Amount     float64      `gorm:"not null" json:"amount"`
	Currency   string       `gorm:"type:varchar(10);not null;default:'ETH'" json:"currency"`
	Status     PaymentState `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`

	TxHash      string `gorm:"type:varchar(66);index" json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Contract Contract `gorm:"foreignKey:ContractID" json:"contract,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}
