package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.True(t, IsValidAddress("0x8617e340b3d01fa5f11f306f4090fd50e238070d"))
	assert.False(t, IsValidAddress("8617e340b3d01fa5f11f306f4090fd50e238070d"))
	assert.False(t, IsValidAddress("0x8617e340b3d01fa5f11f306f4090fd50e238070"))
	assert.False(t, IsValidAddress("0xzz17e340b3d01fa5f11f306f4090fd50e238070d"))
	assert.False(t, IsValidAddress(""))

	_, err := ParseAddress("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestPrivateKeyHex(t *testing.T) {
	key, _, err := GenerateKeyPair()
	require.NoError(t, err)

	s := PrivateKeyToHex(key)
	assert.True(t, strings.HasPrefix(s, "0x"))

	back, err := PrivateKeyFromHex(s)
	require.NoError(t, err)
	assert.Equal(t, PublicKeyToAddress(&key.PublicKey), PublicKeyToAddress(&back.PublicKey))

	_, err = PrivateKeyFromHex("0x1234")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestDeriveAccountKey(t *testing.T) {
	master, err := DeriveMasterKey(testMnemonic)
	require.NoError(t, err)

	key, err := DeriveAccountKey(master, append(DefaultHDPath, 0))
	require.NoError(t, err)
	// first account of the well known development mnemonic
	assert.Equal(t,
		common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		PublicKeyToAddress(&key.PublicKey))

	_, err = DeriveMasterKey("not a mnemonic")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestDeriveChildAddressFromXpub(t *testing.T) {
	master, err := DeriveMasterKey(testMnemonic)
	require.NoError(t, err)

	account, err := DerivePath(master, DefaultHDPath[:3])
	require.NoError(t, err)
	neutered, err := account.Neuter()
	require.NoError(t, err)

	pub, err := neutered.ECPubKey()
	require.NoError(t, err)
	xpub, err := NewExtendedPublicKey(pub.SerializeCompressed(), neutered.ChainCode(), 0, 3)
	require.NoError(t, err)

	for i := uint32(0); i < 3; i++ {
		want, err := DeriveAccountKey(master, append(DefaultHDPath, i))
		require.NoError(t, err)
		got, err := DeriveChildAddress(xpub, []uint32{0, i})
		require.NoError(t, err)
		assert.Equal(t, PublicKeyToAddress(&want.PublicKey), got)
	}
}

func TestParseSignatureTail(t *testing.T) {
	key, err := PrivateKeyFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	chainID := big.NewInt(1)
	signer := types.NewLondonSigner(chainID)
	to := common.HexToAddress("0x8617e340b3d01fa5f11f306f4090fd50e238070d")

	// look for a nonce whose r and s are both full 32 byte strings
	for nonce := uint64(0); nonce < 64; nonce++ {
		tx := types.MustSignNewTx(key, signer, &types.DynamicFeeTx{
			ChainID: chainID, Nonce: nonce, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2),
			Gas: 21000, To: &to, Value: big.NewInt(1000),
		})
		raw, err := tx.MarshalBinary()
		require.NoError(t, err)
		tail := raw[len(raw)-67:]
		if tail[1] != 0xa0 || tail[34] != 0xa0 {
			continue
		}

		v, r, s, err := ParseSignatureTail(hexutil.Encode(raw))
		require.NoError(t, err)
		wantV, wantR, wantS := tx.RawSignatureValues()
		assert.Equal(t, byte(wantV.Uint64()), v)
		assert.Equal(t, wantR.Bytes(), new(big.Int).SetBytes(r).Bytes())
		assert.Equal(t, wantS.Bytes(), new(big.Int).SetBytes(s).Bytes())

		addr, err := RecoverAddress(signer.Hash(tx).Bytes(), SignatureBytes(r, s, v))
		require.NoError(t, err)
		assert.Equal(t, PublicKeyToAddress(&key.PublicKey), addr)
		return
	}
	t.Fatal("no nonce produced a full width signature")
}

func TestParseSignatureTailTooShort(t *testing.T) {
	_, _, _, err := ParseSignatureTail("0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNormalizeSignature(t *testing.T) {
	hash := gethcrypto.Keccak256([]byte("hello"))
	key, _, err := GenerateKeyPair()
	require.NoError(t, err)
	sig, err := gethcrypto.Sign(hash, key)
	require.NoError(t, err)
	recID := sig[64]

	legacy := append(append([]byte{}, sig[:64]...), recID+27)
	out, err := NormalizeSignature(legacy, nil)
	require.NoError(t, err)
	assert.Equal(t, sig, out)

	eip155 := append(append([]byte{}, sig[:64]...), recID+35+2*5)
	out, err = NormalizeSignature(eip155, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, sig, out)

	_, err = NormalizeSignature(sig[:10], nil)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
