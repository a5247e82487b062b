package scanner

import "errors"

// ReadyState is the camera readiness of a reader session.
type ReadyState string

const (
	AccessingCamera   ReadyState = "ACCESSING_CAMERA"
	NeedToAllowAccess ReadyState = "NEED_TO_ALLOW_ACCESS"
	Ready             ReadyState = "READY"
)

// Purpose selects what a reader session expects to scan.
type Purpose string

const (
	PurposeWallet    Purpose = "wallet"
	PurposeSignature Purpose = "signature"
)

var (
	ErrCameraNotAllowed = errors.New("camera: permission denied")
	ErrNoWebcam         = errors.New("camera: no webcam found")
	ErrUnknownQRCode    = errors.New("unknown QR code")
	ErrUnknownURType    = errors.New("scanner: unknown ur type")
	ErrIncompleteUR     = errors.New("scanner: incomplete ur")
	ErrSessionNotFound  = errors.New("scanner: session not found")
	ErrUnknownPurpose   = errors.New("scanner: unknown purpose")
)

// User facing texts.
const (
	StatusAccessingCamera = "Accessing your camera..."
	StatusScanning        = "Place the QR code in front of your camera. The screen is blurred, but it will not affect the reading."
	StatusAllowAccess     = "You need to allow camera access"

	TitleUnknownWalletQR  = "Unknown wallet QR code"
	TitleInvalidTxQR      = "Invalid transaction QR code"
	TitleNoWebcam         = "We couldn't find a webcam"
	TitleUnknownCamera    = "Something went wrong..."
	MsgUnknownQRCode      = "unknown QR code"
	MsgNoWebcam           = "Please connect a webcam and try again."
	MsgUnknownCameraError = "Oops, something went wrong while accessing the camera."
	MsgMismatchedSignID   = "Incongruent transaction data. Please check the transaction details."
)

func statusText(s ReadyState) string {
	switch s {
	case Ready:
		return StatusScanning
	case NeedToAllowAccess:
		return StatusAllowAccess
	}
	return StatusAccessingCamera
}
