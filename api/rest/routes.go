package rest

import (
	"math/big"
	"net/http"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/gorilla/mux"
)

func setupRouter(ctrl *keyring.Controller, queue *signer.Queue, scanners *scanner.Manager, wsHub *api.WSHub, chainID *big.Int, limiter *RateLimiter) http.Handler {
	r := mux.NewRouter()

	// Middleware setup
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Base route
	r.HandleFunc("/", HomeHandler).Methods("GET")

	// WebSocket endpoint
	r.HandleFunc("/ws", api.HandleWebSocket(wsHub))

	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	// Vault
	apiRouter.HandleFunc("/status", GetStatus(ctrl, queue, wsHub, chainID)).Methods("GET")
	apiRouter.HandleFunc("/vault", limiter.Limit(CreateVault(ctrl))).Methods("POST")
	apiRouter.HandleFunc("/vault/unlock", limiter.Limit(UnlockVault(ctrl))).Methods("POST")
	apiRouter.HandleFunc("/vault/lock", LockVault(ctrl)).Methods("POST")

	// Accounts and keyrings
	apiRouter.HandleFunc("/accounts", GetAccounts(ctrl)).Methods("GET")
	apiRouter.HandleFunc("/accounts/import", ImportAccount(ctrl)).Methods("POST")
	apiRouter.HandleFunc("/accounts/selected", SelectAccount(ctrl)).Methods("POST")
	apiRouter.HandleFunc("/accounts/{address}", RemoveAccount(ctrl)).Methods("DELETE")
	apiRouter.HandleFunc("/keyrings", GetKeyrings(ctrl)).Methods("GET")
	apiRouter.HandleFunc("/keyrings", AddKeyring(ctrl)).Methods("POST")

	// Signing
	apiRouter.HandleFunc("/tx/sign", SignTransaction(ctrl, chainID)).Methods("POST")
	apiRouter.HandleFunc("/message/sign", SignMessage(ctrl)).Methods("POST")
	apiRouter.HandleFunc("/sign/requests", GetSignRequests(queue)).Methods("GET")
	apiRouter.HandleFunc("/sign/requests/{id}", ResolveSignRequest(queue)).Methods("POST")
	apiRouter.HandleFunc("/sign/requests/{id}", RejectSignRequest(queue)).Methods("DELETE")
	apiRouter.HandleFunc("/sign/requests/{id}/qr/{part:[0-9]+}", GetSignRequestQR(queue)).Methods("GET")

	// QR reader sessions and hardware wallet import
	apiRouter.HandleFunc("/qr/sessions", OpenSession(scanners)).Methods("POST")
	apiRouter.HandleFunc("/qr/sessions/{id}", GetSession(scanners)).Methods("GET")
	apiRouter.HandleFunc("/qr/sessions/{id}", CloseSession(scanners)).Methods("DELETE")
	apiRouter.HandleFunc("/qr/sessions/{id}/scan", ScanSession(scanners)).Methods("POST")
	apiRouter.HandleFunc("/qr/sessions/{id}/paste", PasteSession(scanners)).Methods("POST")
	apiRouter.HandleFunc("/qr/sessions/{id}/retry", RetrySession(scanners)).Methods("POST")
	apiRouter.HandleFunc("/qr/import", ImportUR(ctrl)).Methods("POST")
	apiRouter.HandleFunc("/qr/accounts", AddQRAccounts(ctrl)).Methods("POST")

	// WebSocket status API
	apiRouter.HandleFunc("/ws/status", GetWSStatus(wsHub)).Methods("GET")

	return r
}
