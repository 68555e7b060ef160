package services

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"RentChain/internal/models"
)

// ContractDigest is the canonical 32-byte digest both parties sign. It
// covers the fields that identify the agreement; anything mutable after
// signing (status, payment bookkeeping) is excluded.
func ContractDigest(ct *models.Contract) []byte {
	payload := fmt.Sprintf(
		"rentchain/contract/v1|%d|tenant:%d|owner:%d|item:%s|start:%s|end:%s|price:%.8f|deposit:%.8f|%s",
		ct.ID,
		ct.TenantID,
		ct.OwnerID,
		ct.ItemID.String(),
		ct.StartDate.UTC().Format("2006-01-02T15:04:05Z"),
		ct.EndDate.UTC().Format("2006-01-02T15:04:05Z"),
		ct.TotalPrice,
		ct.Deposit,
		ct.Terms,
	)
	return crypto.Keccak256([]byte(payload))
}

// VerifySignature checks that sigHex is a valid secp256k1 signature of
// digest and that the recovering key belongs to walletAddress. The
// signature is a 65-byte r||s||v hex string, v either 0/1 or 27/28.
func VerifySignature(walletAddress string, digest []byte, sigHex string) error {
	if walletAddress == "" {
		return forbidden("signer has no wallet address on file")
	}
	sig := common.FromHex(sigHex)
	if len(sig) != 65 {
		return forbidden("signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return forbidden("signature does not recover: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), walletAddress) {
		return forbidden("signature recovers %s, expected %s", recovered.Hex(), walletAddress)
	}
	return nil
}
