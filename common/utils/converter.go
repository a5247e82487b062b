package utils

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

// StripHexPrefix drops a leading "0x"/"0X".
func StripHexPrefix(s string) string {
	if HasHexPrefix(s) {
		return s[2:]
	}
	return s
}

func HasHexPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// BytesToHex encodes b as 0x-prefixed hex. Empty input gives "0x".
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToBytes decodes hex with or without prefix. Odd length input is left padded.
func HexToBytes(s string) ([]byte, error) {
	s = StripHexPrefix(strings.TrimSpace(s))
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// BigToHex renders n as minimal 0x-prefixed hex ("0x0" for zero or nil).
func BigToHex(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

// Uint64ToHex renders v as minimal 0x-prefixed hex.
func Uint64ToHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// ParseQuantity accepts decimal or 0x-prefixed hex.
func ParseQuantity(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), true
	}
	if HasHexPrefix(s) {
		if len(s) == 2 {
			return new(big.Int), true
		}
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}

// ParseUint64 accepts decimal or 0x-prefixed hex.
func ParseUint64(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if HasHexPrefix(s) {
		if len(s) == 2 {
			return 0, nil
		}
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
