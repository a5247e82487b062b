package keyring

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress    = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testMnemonic   = "test test test test test test test test test test test junk"
	testPassword   = "password123"
)

var testChainID = big.NewInt(1)

type fixture struct {
	ctrl  *Controller
	queue *signer.Queue
	db    *storage.DB
}

func newFixture(t *testing.T, mode ManualMode) *fixture {
	t.Helper()
	db, err := storage.OpenMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := signer.NewQueue(0, nil)
	t.Cleanup(queue.Close)

	vault := storage.NewVault(db, config.Vault{ScryptN: 1 << 10, ScryptR: 8, ScryptP: 1})
	ctrl := NewController(vault, storage.NewPreferences(db), Env{Signer: queue, ManualMode: mode, MaxFragmentLen: 100})
	require.NoError(t, ctrl.CreateNewVault(context.Background(), testPassword))
	return &fixture{ctrl: ctrl, queue: queue, db: db}
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.PrivateKeyFromHex(testPrivateKey)
	require.NoError(t, err)
	return key
}

// signedFullWidth returns an unsigned tx and its signed form whose r and s encode as full 32 byte strings.
func signedFullWidth(t *testing.T, key *ecdsa.PrivateKey) (*types.Transaction, *types.Transaction) {
	t.Helper()
	to := common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	s := types.NewLondonSigner(testChainID)
	for nonce := uint64(0); nonce < 64; nonce++ {
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID: testChainID, Nonce: nonce, GasTipCap: big.NewInt(1e9), GasFeeCap: big.NewInt(3e10),
			Gas: 21000, To: &to, Value: big.NewInt(12345),
		})
		signed, err := types.SignTx(tx, s, key)
		require.NoError(t, err)
		raw, err := signed.MarshalBinary()
		require.NoError(t, err)
		tail := raw[len(raw)-67:]
		if tail[1] == 0xa0 && tail[34] == 0xa0 {
			return tx, signed
		}
	}
	t.Fatal("no full width signature found")
	return nil, nil
}

func rawHex(t *testing.T, tx *types.Transaction) string {
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return utils.BytesToHex(raw)
}

// answer resolves the next pending request with the value produced by respond.
func answer(t *testing.T, q *signer.Queue, respond func(signer.Request) string) {
	t.Helper()
	go func() {
		var pending []signer.Request
		deadline := time.Now().Add(2 * time.Second)
		for len(pending) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
			pending = q.Pending()
		}
		if len(pending) == 0 {
			return
		}
		_ = q.Resolve(pending[0].ID, respond(pending[0]))
	}()
}

func TestResolveKind(t *testing.T) {
	assert.Equal(t, KindManual, ResolveKind(KindSimple, Options{Params: []string{testAddress}}))
	assert.Equal(t, KindSimple, ResolveKind(KindSimple, Options{Params: []string{testPrivateKey}}))
	assert.Equal(t, KindSimple, ResolveKind(KindSimple, Options{Params: []string{"8617e340b3d01fa5f11f306f4090fd50e238070d"}}))
	assert.Equal(t, KindSimple, ResolveKind(KindSimple, Options{}))
	assert.Equal(t, KindHD, ResolveKind(KindHD, Options{Params: []string{testAddress}}))
}

func TestImportAddressCreatesManualKeyring(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()

	updates := make(chan Update, 8)
	sub := f.ctrl.SubscribeUpdates(updates)
	defer sub.Unsubscribe()

	addr, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{testAddress})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), addr)

	krs := f.ctrl.Keyrings()
	require.Len(t, krs, 1)
	assert.Equal(t, KindManual, krs[0].Type())
	assert.Equal(t, []common.Address{common.HexToAddress(testAddress)}, krs[0].Accounts())
	assert.Equal(t, testAddress, f.ctrl.SelectedAddress())

	select {
	case u := <-updates:
		assert.True(t, u.IsUnlocked)
	case <-time.After(time.Second):
		t.Fatal("no update emitted")
	}

	_, err = f.ctrl.ImportNewAccount(ctx, "Address", []string{testAddress})
	assert.ErrorIs(t, err, ErrDuplicateAccount)
	assert.Len(t, f.ctrl.Keyrings(), 1)
}

func TestImportPrivateKeyCreatesSimpleKeyring(t *testing.T) {
	f := newFixture(t, SignatureTail)
	addr, err := f.ctrl.ImportNewAccount(context.Background(), "Private Key", []string{testPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, crypto.PublicKeyToAddress(&testKey(t).PublicKey), addr)

	krs := f.ctrl.Keyrings()
	require.Len(t, krs, 1)
	assert.Equal(t, KindSimple, krs[0].Type())
}

func TestImportRejectsMalformedInput(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()

	_, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{"0x1234"})
	assert.ErrorIs(t, err, crypto.ErrInvalidPrivateKey)

	_, err = f.ctrl.ImportNewAccount(ctx, "Address", []string{""})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = f.ctrl.ImportNewAccount(ctx, "JSON File", []string{"{}"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Empty(t, f.ctrl.Keyrings())
}

func TestManualKeyringSerializeRoundTrip(t *testing.T) {
	kr, err := NewManualKeyring(Env{}, Options{Params: []string{testAddress, "0x52908400098527886E0F7030069857D2E4169EE7"}})
	require.NoError(t, err)

	data, err := kr.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `["0x8617e340b3d01fa5f11f306f4090fd50e238070d","0x52908400098527886e0f7030069857d2e4169ee7"]`, string(data))

	back, err := NewManualKeyring(Env{}, Options{})
	require.NoError(t, err)
	require.NoError(t, back.Deserialize(data))
	assert.Equal(t, kr.Accounts(), back.Accounts())

	// Deserialize replaces, it does not merge
	require.NoError(t, back.Deserialize(json.RawMessage(`["0x52908400098527886e0f7030069857d2e4169ee7"]`)))
	assert.Len(t, back.Accounts(), 1)
}

func TestManualSignTransactionSignatureTail(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()
	key := testKey(t)
	from := crypto.PublicKeyToAddress(&key.PublicKey)

	_, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{from.Hex()})
	require.NoError(t, err)

	tx, want := signedFullWidth(t, key)
	wantHex := rawHex(t, want)
	var seen signer.Request
	answer(t, f.queue, func(r signer.Request) string {
		seen = r
		return wantHex
	})

	signed, err := f.ctrl.SignTransaction(ctx, from, tx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, want.Hash(), signed.Hash())

	assert.Equal(t, signer.KindManual, seen.Kind)
	var payload signer.TxPayload
	require.NoError(t, json.Unmarshal([]byte(seen.Payload), &payload))
	assert.Equal(t, "0x1", payload.ChainID)
	assert.Equal(t, crypto.AddressTo0xPrefixString(from), payload.From)
	assert.Equal(t, "0x5208", payload.GasLimit)

	v, r, s := tx.RawSignatureValues()
	assert.Zero(t, v.Sign()+r.Sign()+s.Sign(), "input transaction must stay unsigned")
}

func TestManualSignTransactionEmptySignature(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()
	from := common.HexToAddress(testAddress)
	_, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{testAddress})
	require.NoError(t, err)

	tx, _ := signedFullWidth(t, testKey(t))
	before := tx.Hash()
	answer(t, f.queue, func(signer.Request) string { return "" })

	signed, err := f.ctrl.SignTransaction(ctx, from, tx, testChainID)
	assert.ErrorIs(t, err, ErrEmptySignature)
	assert.Nil(t, signed)
	assert.Equal(t, before, tx.Hash())
}

func TestManualSignTransactionWrongSigner(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()
	_, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{testAddress})
	require.NoError(t, err)

	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx, signedByOther := signedFullWidth(t, other)
	otherHex := rawHex(t, signedByOther)
	answer(t, f.queue, func(signer.Request) string { return otherHex })

	_, err = f.ctrl.SignTransaction(ctx, common.HexToAddress(testAddress), tx, testChainID)
	assert.ErrorIs(t, err, ErrSignerMismatch)
}

func TestManualSignTransactionRawMode(t *testing.T) {
	f := newFixture(t, RawTransaction)
	ctx := context.Background()
	key := testKey(t)
	from := crypto.PublicKeyToAddress(&key.PublicKey)
	_, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{from.Hex()})
	require.NoError(t, err)

	to := common.HexToAddress(testAddress)
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: testChainID, Nonce: 7, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), Gas: 21000, To: &to})
	want, err := types.SignTx(tx, types.NewLondonSigner(testChainID), key)
	require.NoError(t, err)
	wantHex := rawHex(t, want)
	answer(t, f.queue, func(signer.Request) string { return wantHex })

	signed, err := f.ctrl.SignTransaction(ctx, from, tx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, want.Hash(), signed.Hash())
}

func TestManualUnsupportedOperations(t *testing.T) {
	kr, err := NewManualKeyring(Env{}, Options{Params: []string{testAddress}})
	require.NoError(t, err)
	ctx := context.Background()
	from := common.HexToAddress(testAddress)

	_, err = kr.SignMessage(ctx, from, make([]byte, 32))
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = kr.SignPersonalMessage(ctx, from, []byte("hi"))
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = kr.GetEncryptionPublicKey(ctx, from)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = kr.DecryptMessage(ctx, from, EncryptedData{})
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestHDKeyTreeConveniencePath(t *testing.T) {
	f := newFixture(t, SignatureTail)
	kr, err := f.ctrl.AddNewKeyring(context.Background(), KindHD, Options{})
	require.NoError(t, err)
	assert.Len(t, kr.Accounts(), 1)
	assert.NotEmpty(t, kr.(*HDKeyring).Mnemonic())

	restored, err := f.ctrl.AddNewKeyring(context.Background(), KindHD, Options{Mnemonic: testMnemonic, NumberOfAccounts: 2})
	require.NoError(t, err)
	require.Len(t, restored.Accounts(), 2)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), restored.Accounts()[0])
}

func TestUnlockRestoresKeyrings(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()

	_, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{testAddress})
	require.NoError(t, err)
	_, err = f.ctrl.ImportNewAccount(ctx, "Private Key", []string{testPrivateKey})
	require.NoError(t, err)
	_, err = f.ctrl.AddNewKeyring(ctx, KindHD, Options{Mnemonic: testMnemonic, NumberOfAccounts: 1})
	require.NoError(t, err)
	before := f.ctrl.Accounts()

	f.ctrl.Lock()
	assert.False(t, f.ctrl.IsUnlocked())
	assert.Empty(t, f.ctrl.Accounts())
	_, err = f.ctrl.AddNewKeyring(ctx, KindHD, Options{})
	assert.ErrorIs(t, err, ErrVaultLocked)

	assert.ErrorIs(t, f.ctrl.Unlock(ctx, "wrong"), storage.ErrIncorrectPassword)
	require.NoError(t, f.ctrl.Unlock(ctx, testPassword))
	assert.Equal(t, before, f.ctrl.Accounts())

	kinds := []Kind{}
	for _, kr := range f.ctrl.Keyrings() {
		kinds = append(kinds, kr.Type())
	}
	assert.Equal(t, []Kind{KindManual, KindSimple, KindHD}, kinds)
	assert.NotEmpty(t, f.ctrl.SelectedAddress())

	assert.ErrorIs(t, f.ctrl.CreateNewVault(ctx, "x"), ErrVaultExists)
}

func TestRemoveAccount(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()
	addr, err := f.ctrl.ImportNewAccount(ctx, "Address", []string{testAddress})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.RemoveAccount(addr))
	assert.Empty(t, f.ctrl.Keyrings())
	assert.Empty(t, f.ctrl.SelectedAddress())
	stored, err := storage.NewPreferences(f.db).SelectedAddress()
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.ErrorIs(t, f.ctrl.RemoveAccount(addr), ErrAccountNotFound)

	hd, err := f.ctrl.AddNewKeyring(ctx, KindHD, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, f.ctrl.RemoveAccount(hd.Accounts()[0]), ErrUnsupportedOperation)
}

func TestSimpleKeyringMessages(t *testing.T) {
	f := newFixture(t, SignatureTail)
	ctx := context.Background()
	from, err := f.ctrl.ImportNewAccount(ctx, "Private Key", []string{testPrivateKey})
	require.NoError(t, err)

	msg := []byte("hello abcfe")
	sig, err := f.ctrl.SignPersonalMessage(ctx, from, msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recoverable := append([]byte{}, sig...)
	recoverable[64] -= 27
	pub, err := gethcrypto.SigToPub(accounts.TextHash(msg), recoverable)
	require.NoError(t, err)
	assert.Equal(t, from, gethcrypto.PubkeyToAddress(*pub))

	_, err = f.ctrl.SignMessage(ctx, from, []byte("short"))
	assert.Error(t, err)

	pubKey, err := f.ctrl.GetEncryptionPublicKey(ctx, from)
	require.NoError(t, err)
	enc, err := Encrypt(pubKey, "secret note")
	require.NoError(t, err)
	plain, err := f.ctrl.DecryptMessage(ctx, from, enc)
	require.NoError(t, err)
	assert.Equal(t, "secret note", plain)

	_, err = f.ctrl.SignPersonalMessage(ctx, common.HexToAddress(testAddress), msg)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
