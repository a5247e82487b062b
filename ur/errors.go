package ur

import "errors"

var (
	ErrInvalidScheme     = errors.New("ur: invalid scheme")
	ErrInvalidType       = errors.New("ur: invalid type")
	ErrInvalidPathLength = errors.New("ur: invalid path length")
	ErrInvalidSequence   = errors.New("ur: invalid sequence component")
	ErrInvalidWord       = errors.New("bytewords: invalid word")
	ErrInvalidChecksum   = errors.New("ur: invalid checksum")
	ErrInvalidPart       = errors.New("ur: invalid part")
	ErrNotComplete       = errors.New("ur: decode not complete")
	ErrEmptyMessage      = errors.New("ur: empty message")
)
