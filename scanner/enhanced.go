package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/ur"
)

// HardwareImporter accepts hardware wallet exports as hex encoded CBOR.
type HardwareImporter interface {
	SubmitQRHardwareCryptoHDKey(ctx context.Context, cborHex string) error
	SubmitQRHardwareCryptoAccount(ctx context.Context, cborHex string) error
}

// EnhancedReader couples a Reader with a FrameScanner and a paste box for wallet exports.
type EnhancedReader struct {
	reader   *Reader
	frames   *FrameScanner
	importer HardwareImporter

	mu       sync.Mutex
	controls *Controls
}

func NewEnhancedReader(reader *Reader, frames *FrameScanner, importer HardwareImporter) *EnhancedReader {
	return &EnhancedReader{reader: reader, frames: frames, importer: importer}
}

// Start runs the frame scanner, feeding every decoded text to the reader.
func (e *EnhancedReader) Start(ctx context.Context) error {
	if e.frames == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controls != nil {
		return nil
	}
	c, err := e.frames.Start(ctx, e.reader.HandleScan)
	if err != nil {
		return err
	}
	e.controls = c
	return nil
}

func (e *EnhancedReader) Stop() {
	e.mu.Lock()
	c := e.controls
	e.controls = nil
	e.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// SubmitPasted imports a complete crypto-hdkey or crypto-account UR and returns its type.
func (e *EnhancedReader) SubmitPasted(ctx context.Context, value string) (string, error) {
	return SubmitWalletUR(ctx, e.importer, value)
}

// SubmitWalletUR decodes value as one complete UR and hands it to importer.
func SubmitWalletUR(ctx context.Context, importer HardwareImporter, value string) (string, error) {
	dec := ur.NewDecoder()
	if _, err := dec.ReceivePart(strings.TrimSpace(value)); err != nil {
		return "", err
	}
	if !dec.IsComplete() {
		return "", ErrIncompleteUR
	}
	u, err := dec.Result()
	if err != nil {
		return "", err
	}
	return u.Type, submitWallet(ctx, importer, u)
}

func submitWallet(ctx context.Context, importer HardwareImporter, u *ur.UR) error {
	switch u.Type {
	case protocol.URTypeCryptoHDKey:
		return importer.SubmitQRHardwareCryptoHDKey(ctx, u.CBORHex())
	case protocol.URTypeCryptoAccount:
		return importer.SubmitQRHardwareCryptoAccount(ctx, u.CBORHex())
	}
	return fmt.Errorf("%w: %s", ErrUnknownURType, u.Type)
}

// ImportWallet is the success handler of a wallet reading session.
func ImportWallet(importer HardwareImporter) SuccessFunc {
	return func(ctx context.Context, u *ur.UR) error {
		return submitWallet(ctx, importer, u)
	}
}

// AcceptSignature is the success handler of a signature reading session.
func AcceptSignature(submit func(*ur.UR) error) SuccessFunc {
	return func(_ context.Context, u *ur.UR) error {
		return submit(u)
	}
}
