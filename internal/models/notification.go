package models

import (
	"time"

	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationContractCreated   NotificationType = "contract_created"
	NotificationContractSigned    NotificationType = "contract_signed"
	NotificationContractDeployed  NotificationType = "contract_deployed"
	NotificationContractActivated NotificationType = "contract_activated"
	NotificationContractCompleted NotificationType = "contract_completed"
	NotificationContractCancelled NotificationType = "contract_cancelled"
	NotificationContractExtended  NotificationType = "contract_extended"
	NotificationDepositPaid       NotificationType = "deposit_paid"
	NotificationDisputeOpened     NotificationType = "dispute_opened"
	NotificationDisputeResolved   NotificationType = "dispute_resolved"
)

type Notification struct {
	ID        uint             `json:"id" gorm:"primaryKey"`
	UserID    uint             `json:"user_id" gorm:"not null;index"`
	Type      NotificationType `json:"type" gorm:"type:varchar(50);not null"`
	Title     string           `json:"title" gorm:"type:varchar(255);not null"`
	Message   string           `json:"message" gorm:"type:text;not null"`
	ActionURL string           `json:"action_url,omitempty" gorm:"type:varchar(255)"`
	IsRead    bool             `json:"is_read" gorm:"default:false;index"`
	Data      string           `json:"data" gorm:"type:json"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at"`

	// Relationships
	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (Notification) TableName() string {
	return "notifications"
}

// BeforeCreate hook
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	n.CreatedAt = time.Now()
	return nil
}
