package protocol

// Uniform Resource registry type tags handled by the wallet.
const (
	URTypeBytes          = "bytes"
	URTypeCryptoHDKey    = "crypto-hdkey"
	URTypeCryptoAccount  = "crypto-account"
	URTypeEthSignRequest = "eth-sign-request"
	URTypeEthSignature   = "eth-signature"
)

// Account import strategies accepted by ImportNewAccount.
const (
	StrategyAddress    = "Address"
	StrategyPrivateKey = "Private Key"
)
