package crypto

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const vaultDomain = "engagement/escrow-vault"

// VaultAddress returns the deterministic custody identity for an engagement
// when the ledger holds no signing keys (in-memory ledgers).
func VaultAddress(engagementID string) [20]byte {
	digest := crypto.Keccak256([]byte(vaultDomain), []byte(strings.TrimSpace(engagementID)))
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// DeriveVaultKey derives the signing key that controls the custody account of
// an engagement. The same master key and engagement id always produce the same
// key, so vault keys never need to be persisted.
func DeriveVaultKey(master *PrivateKey, engagementID string) (*PrivateKey, error) {
	if master == nil || master.PrivateKey == nil {
		return nil, errors.New("crypto: nil master key")
	}
	id := strings.TrimSpace(engagementID)
	if id == "" {
		return nil, errors.New("crypto: empty engagement id")
	}
	seed := master.Bytes()
	var counter [4]byte
	for i := uint32(0); i < 16; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		candidate := crypto.Keccak256([]byte(vaultDomain), seed, []byte(id), counter[:])
		key, err := crypto.ToECDSA(candidate)
		if err != nil {
			// candidate outside the curve order; retry with the next counter
			continue
		}
		return &PrivateKey{key}, nil
	}
	return nil, errors.New("crypto: unable to derive vault key")
}
