package keyring

import "errors"

var (
	ErrVaultLocked          = errors.New("keyring controller is locked")
	ErrVaultExists          = errors.New("vault already exists")
	ErrUnknownKeyringType   = errors.New("unknown keyring type")
	ErrUnknownStrategy      = errors.New("unknown import strategy")
	ErrEmptyInput           = errors.New("no account to import")
	ErrDuplicateAccount     = errors.New("the account you are trying to import is a duplicate")
	ErrAccountNotFound      = errors.New("no keyring found for the requested account")
	ErrUnsupportedOperation = errors.New("operation not supported by this keyring")
	ErrEmptySignature       = errors.New("empty signature")
	ErrSignerMismatch       = errors.New("signature does not recover to the sending account")
	ErrMismatchedSignID     = errors.New("signature request id does not match any pending request")
	ErrNoHardwareKey        = errors.New("no hardware wallet key has been submitted")
	ErrUnsupportedTxType    = errors.New("unsupported transaction type")
)
