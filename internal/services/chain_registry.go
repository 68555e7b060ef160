package services

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"RentChain/internal/models"
)

// The escrow factory keys items by a native integer id. Ids are rows in
// item_chain_ids, allocated sequentially on first use; the mapping is
// injective by construction, unlike hashing a UUID down to 64 bits.

// ChainIDForItem returns the chain id for an item, allocating one on
// first use.
func ChainIDForItem(tx *gorm.DB, itemID uuid.UUID) (uint64, error) {
	var row models.ItemChainID
	err := tx.Where("item_id = ?", itemID).First(&row).Error
	if err == nil {
		return row.ChainID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	row = models.ItemChainID{ItemID: itemID}
	if err := tx.Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ChainID, nil
}

// ItemIDForChainID resolves the reverse direction, used when matching
// chain events back to catalog items.
func ItemIDForChainID(tx *gorm.DB, chainID uint64) (uuid.UUID, error) {
	var row models.ItemChainID
	if err := tx.Where("chain_id = ?", chainID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, notFound("no item mapped to chain id %d", chainID)
		}
		return uuid.Nil, err
	}
	return row.ItemID, nil
}
