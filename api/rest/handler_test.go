package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	goqr "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress    = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testPassword   = "password123"
)

type grantedCamera struct{}

func (grantedCamera) CheckStatus(context.Context) (scanner.Status, error) {
	return scanner.Status{EnvironmentReady: true, Permissions: true}, nil
}

type testServer struct {
	handler http.Handler
	ctrl    *keyring.Controller
	queue   *signer.Queue
}

func newTestServer(t *testing.T, mode keyring.ManualMode) *testServer {
	t.Helper()
	db, err := storage.OpenMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	queue := signer.NewQueue(0, nil)
	t.Cleanup(queue.Close)

	vault := storage.NewVault(db, config.Vault{ScryptN: 1 << 10, ScryptR: 8, ScryptP: 1})
	ctrl := keyring.NewController(vault, storage.NewPreferences(db), keyring.Env{Signer: queue, ManualMode: mode})
	scanners := scanner.NewManager(cfg.Scanner, grantedCamera{}, scanner.NewNotifyPlatform(true, nil),
		ctrl, clockwork.NewFakeClock(), nil)
	t.Cleanup(scanners.CloseAll)

	srv := NewServer(cfg, ctrl, queue, scanners, api.NewWSHub())
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return &testServer{handler: srv.Handler(), ctrl: ctrl, queue: queue}
}

type testResp struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, testResp) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var resp testResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func decodeData(t *testing.T, resp testResp, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestVaultLifecycle(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)

	code, resp := s.do(t, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, code)
	var st StatusResp
	decodeData(t, resp, &st)
	assert.False(t, st.VaultExists)
	assert.Equal(t, int64(1), st.ChainID)

	code, _ = s.do(t, "POST", "/api/v1/vault", PasswordReq{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "POST", "/api/v1/vault", PasswordReq{Password: testPassword})
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, "POST", "/api/v1/vault", PasswordReq{Password: testPassword})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address", Params: []string{testAddress}})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "POST", "/api/v1/vault/lock", nil)
	require.Equal(t, http.StatusOK, code)
	code, resp = s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Private Key", Params: []string{testPrivateKey}})
	assert.Equal(t, http.StatusLocked, code)
	assert.False(t, resp.Success)

	code, _ = s.do(t, "POST", "/api/v1/vault/unlock", PasswordReq{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, "POST", "/api/v1/vault/unlock", PasswordReq{Password: testPassword})
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, "GET", "/api/v1/accounts", nil)
	require.Equal(t, http.StatusOK, code)
	var accs AccountsResp
	decodeData(t, resp, &accs)
	assert.Equal(t, []string{testAddress}, accs.Accounts)
	assert.Equal(t, testAddress, accs.SelectedAddress)
}

func TestImportAccount(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))

	code, resp := s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, keyring.ErrEmptyInput.Error(), resp.Error)

	code, _ = s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address", Params: []string{"0x1234"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address", Params: []string{testAddress}})
	require.Equal(t, http.StatusOK, code)
	var imported ImportAccountResp
	decodeData(t, resp, &imported)
	assert.Equal(t, testAddress, imported.Address)

	code, _ = s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address", Params: []string{testAddress}})
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(t, "GET", "/api/v1/keyrings", nil)
	require.Equal(t, http.StatusOK, code)
	var krs []keyring.KeyringInfo
	decodeData(t, resp, &krs)
	require.Len(t, krs, 1)
	assert.Equal(t, keyring.KindManual, krs[0].Type)

	code, _ = s.do(t, "DELETE", "/api/v1/accounts/"+testAddress, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, "DELETE", "/api/v1/accounts/"+testAddress, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, "POST", "/api/v1/accounts/selected", SelectAccountReq{Address: testAddress})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAddKeyring(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))

	code, resp := s.do(t, "POST", "/api/v1/keyrings", AddKeyringReq{
		Type:             keyring.KindHD,
		Mnemonic:         "test test test test test test test test test test test junk",
		NumberOfAccounts: 2,
	})
	require.Equal(t, http.StatusCreated, code)
	var info keyring.KeyringInfo
	decodeData(t, resp, &info)
	assert.Equal(t, keyring.KindHD, info.Type)
	require.Len(t, info.Accounts, 2)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", info.Accounts[0])

	code, _ = s.do(t, "POST", "/api/v1/keyrings", AddKeyringReq{Type: "Ledger"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignTransactionWithPrivateKey(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))
	code, _ := s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Private Key", Params: []string{testPrivateKey}})
	require.Equal(t, http.StatusOK, code)

	code, resp := s.do(t, "POST", "/api/v1/tx/sign", SignTxReq{
		From:                 testAddress,
		Nonce:                "0x3",
		To:                   "0x52908400098527886E0F7030069857D2E4169EE7",
		Value:                "1000",
		MaxFeePerGas:         "30000000000",
		MaxPriorityFeePerGas: "0x3b9aca00",
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var signed SignTxResp
	decodeData(t, resp, &signed)

	raw, err := utils.HexToBytes(signed.Raw)
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, signed.Hash, tx.Hash().Hex())
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.AddressTo0xPrefixString(from))

	// gasPrice selects a legacy transaction
	code, resp = s.do(t, "POST", "/api/v1/tx/sign", SignTxReq{From: testAddress, GasPrice: "1000000000", Value: "0"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	decodeData(t, resp, &signed)
	raw, err = utils.HexToBytes(signed.Raw)
	require.NoError(t, err)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Nil(t, tx.To())

	code, _ = s.do(t, "POST", "/api/v1/tx/sign", SignTxReq{From: testAddress, Value: "lots"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignTransactionManualReject(t *testing.T) {
	s := newTestServer(t, keyring.RawTransaction)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))
	code, _ := s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address", Params: []string{testAddress}})
	require.Equal(t, http.StatusOK, code)

	type result struct {
		code int
		resp testResp
	}
	done := make(chan result, 1)
	go func() {
		c, r := s.do(t, "POST", "/api/v1/tx/sign", SignTxReq{From: testAddress, GasPrice: "1", Value: "1", To: testAddress})
		done <- result{c, r}
	}()

	var pending []signer.Request
	require.Eventually(t, func() bool {
		code, resp := s.do(t, "GET", "/api/v1/sign/requests", nil)
		if code != http.StatusOK {
			return false
		}
		decodeData(t, resp, &pending)
		return len(pending) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, signer.KindManual, pending[0].Kind)
	assert.Equal(t, testAddress, pending[0].From)

	code, _ = s.do(t, "DELETE", "/api/v1/sign/requests/"+pending[0].ID, nil)
	require.Equal(t, http.StatusOK, code)

	select {
	case res := <-done:
		assert.Equal(t, http.StatusForbidden, res.code)
		assert.Equal(t, signer.ErrRequestRejected.Error(), res.resp.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("sign request did not return")
	}

	code, _ = s.do(t, "DELETE", "/api/v1/sign/requests/"+pending[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSignMessage(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))
	code, _ := s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Private Key", Params: []string{testPrivateKey}})
	require.Equal(t, http.StatusOK, code)

	code, resp := s.do(t, "POST", "/api/v1/message/sign", SignMessageReq{From: testAddress, Method: MethodPersonalSign, Data: "hello"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var out SignMessageResp
	decodeData(t, resp, &out)
	sig, err := utils.HexToBytes(out.Result)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27
	signerAddr, err := crypto.RecoverAddress(accounts.TextHash([]byte("hello")), sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.AddressTo0xPrefixString(signerAddr))

	code, resp = s.do(t, "POST", "/api/v1/message/sign", SignMessageReq{From: testAddress, Method: MethodEncryptionPubKey})
	require.Equal(t, http.StatusOK, code, resp.Error)
	decodeData(t, resp, &out)
	assert.NotEmpty(t, out.Result)

	code, _ = s.do(t, "POST", "/api/v1/message/sign", SignMessageReq{From: testAddress, Method: "eth_mine"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "POST", "/api/v1/message/sign", SignMessageReq{From: testAddress, Method: MethodSignTypedData})
	assert.Equal(t, http.StatusBadRequest, code)

	// manual signers cannot sign messages
	code, _ = s.do(t, "POST", "/api/v1/accounts/import", ImportAccountReq{Strategy: "Address", Params: []string{"0x52908400098527886e0f7030069857d2e4169ee7"}})
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, "POST", "/api/v1/message/sign", SignMessageReq{
		From: "0x52908400098527886e0f7030069857d2e4169ee7", Method: MethodPersonalSign, Data: "0x68656c6c6f",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignRequestQR(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.queue.Submit(ctx, signer.Request{
		ID:    "req-qr",
		Kind:  signer.KindQR,
		Parts: []string{"ur:bytes/1-2-aaaa", "ur:bytes/2-2-bbbb"},
	})
	require.Eventually(t, func() bool {
		_, ok := s.queue.Get("req-qr")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	req := httptest.NewRequest("GET", "/api/v1/sign/requests/req-qr/qr/1", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("X-UR-Parts"))
	_, err := png.Decode(rec.Body)
	require.NoError(t, err)

	code, _ := s.do(t, "GET", "/api/v1/sign/requests/req-qr/qr/2", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "GET", "/api/v1/sign/requests/other/qr/0", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestQRSessions(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))

	code, _ := s.do(t, "POST", "/api/v1/qr/sessions", OpenSessionReq{Purpose: "camera"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := s.do(t, "POST", "/api/v1/qr/sessions", OpenSessionReq{Purpose: scanner.PurposeWallet})
	require.Equal(t, http.StatusCreated, code)
	var sess SessionResp
	decodeData(t, resp, &sess)
	assert.True(t, sess.State.IsReadingWallet)
	base := "/api/v1/qr/sessions/" + sess.ID

	code, resp = s.do(t, "POST", base+"/paste", PasteReq{Data: "not a qr"})
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &sess)
	assert.Equal(t, scanner.TitleUnknownWalletQR, sess.State.ErrorTitle)
	assert.Equal(t, scanner.MsgUnknownQRCode, sess.State.Error)

	code, resp = s.do(t, "POST", base+"/retry", nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &sess)
	assert.Empty(t, sess.State.Error)

	code, _ = s.do(t, "POST", base+"/scan", ScanReq{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "POST", base+"/scan", ScanReq{Frame: "!!!"})
	assert.Equal(t, http.StatusBadRequest, code)

	img, err := goqr.Encode("hello", goqr.Medium, 128)
	require.NoError(t, err)
	code, _ = s.do(t, "POST", base+"/scan", ScanReq{Frame: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)})
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "DELETE", base, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, "GET", base, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestImportURAndAddAccounts(t *testing.T) {
	s := newTestServer(t, keyring.SignatureTail)
	require.NoError(t, s.ctrl.CreateNewVault(context.Background(), testPassword))

	code, _ := s.do(t, "POST", "/api/v1/qr/accounts", AddQRAccountsReq{Count: 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "POST", "/api/v1/qr/import", ImportURReq{UR: "ur:bytes/hdcxdwmsjpbsryqdurhf"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, "POST", "/api/v1/qr/import", ImportURReq{UR: "hello"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{storage.ErrIncorrectPassword, http.StatusUnauthorized},
		{keyring.ErrVaultLocked, http.StatusLocked},
		{fmt.Errorf("wrapped: %w", keyring.ErrAccountNotFound), http.StatusNotFound},
		{scanner.ErrSessionNotFound, http.StatusNotFound},
		{keyring.ErrDuplicateAccount, http.StatusConflict},
		{signer.ErrRequestTimeout, http.StatusRequestTimeout},
		{signer.ErrRequestRejected, http.StatusForbidden},
		{crypto.ErrInvalidSignature, http.StatusBadRequest},
		{keyring.ErrMismatchedSignID, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
