package crypto

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureTailLen is the hex length of yParity|0xa0|r|0xa0|s, the end of an RLP encoded signed typed tx.
const SignatureTailLen = 134

// ParseSignatureTail reads (v, r, s) from the last 67 bytes of a pasted signed transaction.
// v is the recovery id (yParity & 0x7f).
func ParseSignatureTail(sig string) (v byte, r, s []byte, err error) {
	sig = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(sig), "0x"), "0X")
	if len(sig) < SignatureTailLen {
		return 0, nil, nil, fmt.Errorf("%w: need %d hex characters, got %d", ErrInvalidSignature, SignatureTailLen, len(sig))
	}
	tail, err := hexutil.Decode("0x" + sig[len(sig)-SignatureTailLen:])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	v = tail[0] & 127
	r = tail[2:34]
	s = tail[35:67]
	return v, r, s, nil
}

// SignatureBytes lays out r||s||v as go-ethereum expects.
func SignatureBytes(r, s []byte, v byte) []byte {
	out := make([]byte, 65)
	copy(out[32-len(r):32], r)
	copy(out[64-len(s):64], s)
	out[64] = v
	return out
}

// RecoveryID maps a device supplied v (0/1, 27/28 or EIP-155) to 0 or 1.
func RecoveryID(v *big.Int, chainID *big.Int) byte {
	switch {
	case v.Cmp(big.NewInt(27)) < 0:
		return byte(v.Uint64() & 1)
	case v.Cmp(big.NewInt(35)) < 0:
		return byte(v.Uint64() - 27)
	}
	x := new(big.Int).Sub(v, big.NewInt(35))
	if chainID != nil && chainID.Sign() > 0 {
		x.Sub(x, new(big.Int).Mul(chainID, big.NewInt(2)))
	}
	return byte(x.Bit(0))
}

// NormalizeSignature turns a device signature r(32)||s(32)||v(1..n) into 65 bytes with v in {0,1}.
func NormalizeSignature(sig []byte, chainID *big.Int) ([]byte, error) {
	if len(sig) < 65 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sig))
	}
	v := new(big.Int).SetBytes(sig[64:])
	return SignatureBytes(sig[:32], sig[32:64], RecoveryID(v, chainID)), nil
}

// RecoverAddress returns the signer of hash for a 65 byte r||s||v signature.
func RecoverAddress(hash []byte, sig []byte) (common.Address, error) {
	pub, err := gethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}
