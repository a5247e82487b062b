package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/abcfe/abcfe-wallet/ur/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/mux"
)

// get home response
func HomeHandler(w http.ResponseWriter, r *http.Request) {
	info := map[string]string{
		"name":    "ABCFE Wallet API",
		"version": "1.0.0",
	}
	sendResp(w, http.StatusOK, info, nil)
}

// get wallet status response
func GetStatus(ctrl *keyring.Controller, queue *signer.Queue, hub *api.WSHub, chainID *big.Int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exists, err := ctrl.VaultExists()
		if err != nil {
			sendResp(w, http.StatusInternalServerError, nil, err)
			return
		}
		state := ctrl.State()
		response := StatusResp{
			VaultExists:     exists,
			IsUnlocked:      state.IsUnlocked,
			AccountCount:    len(ctrl.Accounts()),
			SelectedAddress: state.SelectedAddress,
			PendingRequests: len(queue.Pending()),
			ChainID:         chainID.Int64(),
		}
		if hub != nil {
			response.WSClients = hub.GetClientCount()
		}
		sendResp(w, http.StatusOK, response, nil)
	}
}

// create vault response
func CreateVault(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PasswordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		if err := ctrl.CreateNewVault(r.Context(), req.Password); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusCreated, ctrl.State(), nil)
	}
}

// unlock vault response
func UnlockVault(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PasswordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		if err := ctrl.Unlock(r.Context(), req.Password); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, ctrl.State(), nil)
	}
}

// lock vault response
func LockVault(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl.Lock()
		sendResp(w, http.StatusOK, ctrl.State(), nil)
	}
}

// get accounts response
func GetAccounts(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sendResp(w, http.StatusOK, formatAccountsResp(ctrl), nil)
	}
}

// import account response. Only the presence of params is checked here, the
// controller decides whether the value is usable.
func ImportAccount(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportAccountReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		if len(req.Params) == 0 {
			sendResp(w, http.StatusBadRequest, nil, keyring.ErrEmptyInput)
			return
		}

		addr, err := ctrl.ImportNewAccount(r.Context(), req.Strategy, req.Params)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, ImportAccountResp{Address: crypto.AddressTo0xPrefixString(addr)}, nil)
	}
}

// select account response
func SelectAccount(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectAccountReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		addr, err := crypto.ParseAddress(req.Address)
		if err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		if err := ctrl.SetSelectedAddress(addr); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, formatAccountsResp(ctrl), nil)
	}
}

// remove account response
func RemoveAccount(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := crypto.ParseAddress(mux.Vars(r)["address"])
		if err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		if err := ctrl.RemoveAccount(addr); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, formatAccountsResp(ctrl), nil)
	}
}

// get keyrings response
func GetKeyrings(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sendResp(w, http.StatusOK, ctrl.State().Keyrings, nil)
	}
}

// add keyring response
func AddKeyring(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddKeyringReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		kr, err := ctrl.AddNewKeyring(r.Context(), req.Type, keyring.Options{
			Params:           req.Params,
			Mnemonic:         req.Mnemonic,
			NumberOfAccounts: req.NumberOfAccounts,
		})
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusCreated, keyring.KeyringInfo{Type: kr.Type(), Accounts: addressStrings(kr.Accounts())}, nil)
	}
}

// sign transaction response. Blocks until the keyring (or the human behind it) answers.
func SignTransaction(ctrl *keyring.Controller, defaultChainID *big.Int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignTxReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		from, err := crypto.ParseAddress(req.From)
		if err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		tx, chainID, err := convertSignTxReq(&req, defaultChainID)
		if err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}

		signed, err := ctrl.SignTransaction(r.Context(), from, tx, chainID)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			sendResp(w, http.StatusInternalServerError, nil, err)
			return
		}
		sendResp(w, http.StatusOK, SignTxResp{
			Raw:  utils.BytesToHex(raw),
			Hash: signed.Hash().Hex(),
			From: crypto.AddressTo0xPrefixString(from),
		}, nil)
	}
}

// sign message response
func SignMessage(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignMessageReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		from, err := crypto.ParseAddress(req.From)
		if err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}

		var result string
		switch req.Method {
		case MethodEthSign, MethodPersonalSign:
			data, derr := messageBytes(req.Data)
			if derr != nil {
				sendResp(w, http.StatusBadRequest, nil, derr)
				return
			}
			var sig []byte
			if req.Method == MethodEthSign {
				sig, err = ctrl.SignMessage(r.Context(), from, data)
			} else {
				sig, err = ctrl.SignPersonalMessage(r.Context(), from, data)
			}
			result = utils.BytesToHex(sig)
		case MethodSignTypedData:
			if req.Typed == nil {
				sendResp(w, http.StatusBadRequest, nil, fmt.Errorf("typedData is required"))
				return
			}
			var sig []byte
			sig, err = ctrl.SignTypedData(r.Context(), from, *req.Typed)
			result = utils.BytesToHex(sig)
		case MethodDecrypt:
			if req.Encrypted == nil {
				sendResp(w, http.StatusBadRequest, nil, fmt.Errorf("encrypted is required"))
				return
			}
			result, err = ctrl.DecryptMessage(r.Context(), from, *req.Encrypted)
		case MethodEncryptionPubKey:
			result, err = ctrl.GetEncryptionPublicKey(r.Context(), from)
		default:
			sendResp(w, http.StatusBadRequest, nil, fmt.Errorf("unknown method %q", req.Method))
			return
		}
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, SignMessageResp{Result: result}, nil)
	}
}

// get pending sign requests response
func GetSignRequests(queue *signer.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sendResp(w, http.StatusOK, queue.Pending(), nil)
	}
}

// resolve sign request response
func ResolveSignRequest(queue *signer.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResolveSignReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		id := mux.Vars(r)["id"]
		if err := queue.Resolve(id, req.Signature); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, map[string]string{"id": id}, nil)
	}
}

// reject sign request response
func RejectSignRequest(queue *signer.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := queue.Reject(id); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, map[string]string{"id": id}, nil)
	}
}

// GetWSStatus gets WebSocket connection status
func GetWSStatus(hub *api.WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			sendResp(w, http.StatusInternalServerError, nil, fmt.Errorf("WebSocket hub not initialized"))
			return
		}

		status := map[string]interface{}{
			"connected_clients": hub.GetClientCount(),
			"endpoint":          "/ws",
		}

		sendResp(w, http.StatusOK, status, nil)
	}
}

func sendResp(w http.ResponseWriter, statusCode int, data interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := RestResp{
		Success: err == nil,
		Data:    data,
	}

	if err != nil {
		response.Error = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}

var (
	notFoundErrs = []error{
		keyring.ErrAccountNotFound, signer.ErrRequestNotFound, scanner.ErrSessionNotFound,
		storage.ErrVaultNotFound,
	}
	conflictErrs = []error{keyring.ErrDuplicateAccount, keyring.ErrVaultExists}
	badInputErrs = []error{
		keyring.ErrEmptyInput, keyring.ErrUnknownKeyringType, keyring.ErrUnknownStrategy,
		keyring.ErrUnsupportedOperation, keyring.ErrEmptySignature, keyring.ErrSignerMismatch,
		keyring.ErrMismatchedSignID, keyring.ErrNoHardwareKey, keyring.ErrUnsupportedTxType,
		keyring.ErrDecryptFailed, storage.ErrEmptyPassword,
		crypto.ErrInvalidAddress, crypto.ErrInvalidPrivateKey, crypto.ErrInvalidMnemonic, crypto.ErrInvalidSignature,
		scanner.ErrUnknownURType, scanner.ErrIncompleteUR, scanner.ErrUnknownPurpose,
		ur.ErrInvalidScheme, ur.ErrInvalidType, ur.ErrInvalidPathLength, ur.ErrInvalidSequence,
		ur.ErrInvalidWord, ur.ErrInvalidChecksum, ur.ErrInvalidPart, ur.ErrEmptyMessage,
		registry.ErrUnexpectedType, registry.ErrUnexpectedTag, registry.ErrMissingField, registry.ErrInvalidPath,
	}
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrIncorrectPassword):
		return http.StatusUnauthorized
	case errors.Is(err, keyring.ErrVaultLocked):
		return http.StatusLocked
	case errors.Is(err, signer.ErrRequestRejected):
		return http.StatusForbidden
	case errors.Is(err, signer.ErrRequestTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, signer.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}
	if isAny(err, notFoundErrs) {
		return http.StatusNotFound
	}
	if isAny(err, conflictErrs) {
		return http.StatusConflict
	}
	if isAny(err, badInputErrs) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// Helper function to build the accounts response
func formatAccountsResp(ctrl *keyring.Controller) AccountsResp {
	return AccountsResp{
		Accounts:        addressStrings(ctrl.Accounts()),
		SelectedAddress: ctrl.SelectedAddress(),
	}
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = crypto.AddressTo0xPrefixString(a)
	}
	return out
}

// Helper function to read message data: 0x hex is decoded, anything else is taken as UTF-8 text
func messageBytes(s string) ([]byte, error) {
	if utils.HasHexPrefix(s) {
		return utils.HexToBytes(s)
	}
	return []byte(s), nil
}

// Helper function to convert a sign request body into an unsigned transaction
func convertSignTxReq(req *SignTxReq, defaultChainID *big.Int) (*types.Transaction, *big.Int, error) {
	quantity := func(name, s string) (*big.Int, error) {
		v, ok := utils.ParseQuantity(s)
		if !ok {
			return nil, fmt.Errorf("invalid %s: %q", name, s)
		}
		return v, nil
	}

	chainID := defaultChainID
	if req.ChainID != "" {
		v, err := quantity("chainId", req.ChainID)
		if err != nil {
			return nil, nil, err
		}
		chainID = v
	}
	nonce, err := utils.ParseUint64(req.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid nonce: %w", err)
	}
	gas, err := utils.ParseUint64(req.Gas)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid gas: %w", err)
	}
	if gas == 0 {
		gas = 21000
	}
	value, err := quantity("value", req.Value)
	if err != nil {
		return nil, nil, err
	}
	data, err := utils.HexToBytes(req.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid data: %w", err)
	}
	var to *common.Address
	if req.To != "" {
		addr, err := crypto.ParseAddress(req.To)
		if err != nil {
			return nil, nil, err
		}
		to = &addr
	}

	if req.GasPrice != "" {
		gasPrice, err := quantity("gasPrice", req.GasPrice)
		if err != nil {
			return nil, nil, err
		}
		return types.NewTx(&types.LegacyTx{
			Nonce: nonce, GasPrice: gasPrice, Gas: gas, To: to, Value: value, Data: data,
		}), chainID, nil
	}

	feeCap, err := quantity("maxFeePerGas", req.MaxFeePerGas)
	if err != nil {
		return nil, nil, err
	}
	tipCap, err := quantity("maxPriorityFeePerGas", req.MaxPriorityFeePerGas)
	if err != nil {
		return nil, nil, err
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID: chainID, Nonce: nonce, GasTipCap: tipCap, GasFeeCap: feeCap,
		Gas: gas, To: to, Value: value, Data: data,
	}), chainID, nil
}
