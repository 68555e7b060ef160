package services_test

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"RentChain/internal/chain"
	"RentChain/internal/database"
	"RentChain/internal/models"
	"RentChain/internal/services"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// :memory: is per-connection, keep the pool at a single connection
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Item{},
		&models.ItemChainID{},
		&models.Contract{},
		&models.Payment{},
		&models.Dispute{},
		&models.ContractHistory{},
		&models.Notification{},
	))

	database.DB = db
	return db
}

// testParty is a marketplace user together with the wallet key that
// signs for them.
type testParty struct {
	User models.User
	Key  *ecdsa.PrivateKey
}

func newTestParty(t *testing.T, db *gorm.DB, name string) *testParty {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	user := models.User{
		FullName:      name,
		Email:         fmt.Sprintf("%s@example.com", name),
		WalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	require.NoError(t, db.Create(&user).Error)
	return &testParty{User: user, Key: key}
}

func newTestItem(t *testing.T, db *gorm.DB, ownerID uint, pricePerDay, deposit float64) *models.Item {
	item := models.Item{
		OwnerID:     ownerID,
		Title:       "Cordless drill",
		PricePerDay: pricePerDay,
		Deposit:     deposit,
		Available:   true,
	}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

// signHex produces the hex signature Sign expects, made with a party's
// wallet key over the contract digest.
func signHex(t *testing.T, key *ecdsa.PrivateKey, ct *models.Contract) string {
	sig, err := crypto.Sign(services.ContractDigest(ct), key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

// fixture bundles the services and a tenant/owner/item trio most
// lifecycle tests start from.
type fixture struct {
	db        *gorm.DB
	mock      *chain.MockClient
	contracts *services.ContractService
	disputes  *services.DisputeService
	rec       *services.Reconciler
	tenant    *testParty
	owner     *testParty
	item      *models.Item
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	mock := chain.NewMockClient()
	notifier := services.NewNotificationService(nil)

	owner := newTestParty(t, db, "owner")
	tenant := newTestParty(t, db, "tenant")

	return &fixture{
		db:        db,
		mock:      mock,
		contracts: services.NewContractService(mock, notifier),
		disputes:  services.NewDisputeService(notifier),
		rec:       services.NewReconciler(mock),
		tenant:    tenant,
		owner:     owner,
		item:      newTestItem(t, db, owner.User.ID, 0.5, 1.0),
	}
}

func (f *fixture) createContract(t *testing.T) *models.Contract {
	start := time.Now().Add(24 * time.Hour)
	ct, err := f.contracts.Create(services.CreateContractInput{
		TenantID:  f.tenant.User.ID,
		ItemID:    f.item.ID,
		StartDate: start,
		EndDate:   start.Add(3 * 24 * time.Hour),
		Terms:     "return with a full battery",
	})
	require.NoError(t, err)
	return ct
}

func (f *fixture) signBoth(t *testing.T, ct *models.Contract) *models.Contract {
	signed, err := f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.tenant.Key, ct))
	require.NoError(t, err)
	signed, err = f.contracts.Sign(ct.ID, f.owner.User.ID, signHex(t, f.owner.Key, signed))
	require.NoError(t, err)
	return signed
}

// signedContract creates a contract and brings it to SIGNED.
func (f *fixture) signedContract(t *testing.T) *models.Contract {
	return f.signBoth(t, f.createContract(t))
}

// deployedContract goes one step further, deploying the escrow.
func (f *fixture) deployedContract(t *testing.T) *models.Contract {
	ct := f.signedContract(t)
	deployed, err := f.contracts.Deploy(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)
	return deployed
}

// activeContract brings a deployed contract to ACTIVE.
func (f *fixture) activeContract(t *testing.T) *models.Contract {
	ct := f.deployedContract(t)
	active, err := f.contracts.Activate(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)
	return active
}

func (f *fixture) reload(t *testing.T, id uint) *models.Contract {
	var ct models.Contract
	require.NoError(t, f.db.First(&ct, id).Error)
	return &ct
}

func (f *fixture) historyEvents(t *testing.T, contractID uint) []models.HistoryEvent {
	var entries []models.ContractHistory
	require.NoError(t, f.db.
		Where("contract_id = ?", contractID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error)
	events := make([]models.HistoryEvent, len(entries))
	for i, e := range entries {
		events[i] = e.EventType
	}
	return events
}
