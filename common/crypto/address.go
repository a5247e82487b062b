package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress reports whether s is "0x" followed by 40 hex digits. Checksum case is not enforced.
func IsValidAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	return common.IsHexAddress(s)
}

// ParseAddress is IsValidAddress plus the conversion.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !IsValidAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func PublicKeyToAddress(publicKey *ecdsa.PublicKey) common.Address {
	return gethcrypto.PubkeyToAddress(*publicKey)
}

// Lowercase 0x form, the vault and API representation
func AddressTo0xPrefixString(address common.Address) string {
	return strings.ToLower(address.Hex())
}
