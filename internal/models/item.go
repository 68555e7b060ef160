package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Item is the minimal projection of the catalog entry the contract
// lifecycle needs: ownership, pricing, availability and the rental
// counter. Full catalog CRUD lives in the catalog service.
type Item struct {
	ID          uuid.UUID `gorm:"type:uuid;primarykey" json:"id"`
	OwnerID     uint      `gorm:"not null;index" json:"owner_id"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	PricePerDay float64   `gorm:"not null" json:"price_per_day"`
	Deposit     float64   `gorm:"not null" json:"deposit"`
	Available   bool      `gorm:"default:true" json:"available"`
	RentalCount int       `gorm:"default:0" json:"rental_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Item) TableName() string {
	return "items"
}

// BeforeCreate assigns the marketplace UUID.
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// ItemChainID is the injective mapping between the marketplace UUID of an
// item and the integer id the escrow contract understands. Ids are
// allocated sequentially, never derived by hashing, so two items can
// never collide on chain.
type ItemChainID struct {
	ChainID   uint64    `gorm:"primarykey;autoIncrement" json:"chain_id"`
	ItemID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"item_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (ItemChainID) TableName() string {
	return "item_chain_ids"
}
