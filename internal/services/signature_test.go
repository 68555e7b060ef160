package services_test

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RentChain/internal/models"
	"RentChain/internal/services"
)

func digestContract() *models.Contract {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return &models.Contract{
		ID:         42,
		TenantID:   1,
		OwnerID:    2,
		ItemID:     uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
		StartDate:  start,
		EndDate:    start.Add(72 * time.Hour),
		TotalPrice: 1.5,
		Deposit:    1.0,
		Terms:      "return with a full battery",
	}
}

func TestContractDigestIsStable(t *testing.T) {
	ct := digestContract()
	assert.Equal(t, services.ContractDigest(ct), services.ContractDigest(ct))
	assert.Len(t, services.ContractDigest(ct), 32)

	// Any signed-over field changes the digest
	other := digestContract()
	other.Terms = "no terms"
	assert.NotEqual(t, services.ContractDigest(ct), services.ContractDigest(other))

	other = digestContract()
	other.TotalPrice = 2.0
	assert.NotEqual(t, services.ContractDigest(ct), services.ContractDigest(other))
}

func TestVerifySignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	digest := services.ContractDigest(digestContract())
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	assert.NoError(t, services.VerifySignature(wallet, digest, hexutil.Encode(sig)))

	// Ethereum tooling emits v as 27/28; both forms verify
	withV27 := append(append([]byte{}, sig[:64]...), sig[64]+27)
	assert.NoError(t, services.VerifySignature(wallet, digest, hexutil.Encode(withV27)))

	// Case-insensitive address comparison
	assert.NoError(t, services.VerifySignature(
		strings.ToLower(wallet), digest, hexutil.Encode(sig)))
}

func TestVerifySignatureRejections(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	digest := services.ContractDigest(digestContract())
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	// No wallet on file
	err = services.VerifySignature("", digest, hexutil.Encode(sig))
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Truncated signature
	err = services.VerifySignature(wallet, digest, hexutil.Encode(sig[:32]))
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Signature by another key
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherSig, err := crypto.Sign(digest, otherKey)
	require.NoError(t, err)
	err = services.VerifySignature(wallet, digest, hexutil.Encode(otherSig))
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Signature over a different digest recovers the wrong address
	otherDigest := services.ContractDigest(&models.Contract{ID: 7})
	err = services.VerifySignature(wallet, otherDigest, hexutil.Encode(sig))
	assert.ErrorIs(t, err, services.ErrForbidden)
}
