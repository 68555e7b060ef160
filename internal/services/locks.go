package services

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate takes the per-contract row lock that serializes
// concurrent transitions (two simultaneous signs, sign vs deploy).
// SQLite, used in tests, has a single writer and no FOR UPDATE; the
// optimistic version predicate on every contract update covers it.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// advisoryLock serializes reconciliation per contract id for the length
// of the surrounding transaction.
func advisoryLock(tx *gorm.DB, contractID uint) error {
	if tx.Dialector.Name() == "postgres" {
		return tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(contractID)).Error
	}
	return nil
}
