package scanner

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/jonboulle/clockwork"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// FrameScanner continuously decodes QR codes from a FrameSource.
type FrameScanner struct {
	source       FrameSource
	clock        clockwork.Clock
	attemptDelay time.Duration
	successDelay time.Duration

	mu     sync.Mutex
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

func NewFrameScanner(source FrameSource, clock clockwork.Clock, attemptDelay, successDelay time.Duration) *FrameScanner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if attemptDelay == 0 {
		attemptDelay = 100 * time.Millisecond
	}
	if successDelay == 0 {
		successDelay = 100 * time.Millisecond
	}
	return &FrameScanner{
		source:       source,
		clock:        clock,
		attemptDelay: attemptDelay,
		successDelay: successDelay,
		reader:       qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode reads the QR code text of a single frame.
func (s *FrameScanner) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.reader.Decode(bmp, s.hints)
	if err != nil {
		return "", err
	}
	return res.GetText(), nil
}

// Controls stops a running scan.
type Controls struct {
	cancel context.CancelFunc
	done   chan struct{}
	closer io.Closer
	once   sync.Once
}

// Stop ends the scan and waits for the loop to exit. Failures are only logged.
func (c *Controls) Stop() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		if c.closer != nil {
			if err := c.closer.Close(); err != nil {
				logger.Info("failed to close frame source: ", err)
			}
		}
	})
}

// Start decodes frames until ctx ends or Stop is called, handing every decoded text to onText.
func (s *FrameScanner) Start(ctx context.Context, onText func(string)) (*Controls, error) {
	if s.source == nil {
		return nil, errors.New("scanner: no frame source")
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Controls{cancel: cancel, done: make(chan struct{})}
	if closer, ok := s.source.(io.Closer); ok {
		c.closer = closer
	}

	go func() {
		defer close(c.done)
		for {
			delay := s.attemptDelay
			img, err := s.source.NextFrame(ctx)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				logger.Debug("frame source: ", err)
			case img != nil:
				if text, derr := s.Decode(img); derr == nil && text != "" {
					onText(text)
					delay = s.successDelay
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(delay):
			}
		}
	}()
	return c, nil
}
