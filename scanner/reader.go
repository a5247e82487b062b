package scanner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/jonboulle/clockwork"
)

// SuccessFunc receives a completely decoded UR.
type SuccessFunc func(ctx context.Context, u *ur.UR) error

type Options struct {
	IsReadingWallet bool
	// Route is handed to Platform.OpenExtensionInBrowser.
	Route        string
	SettleDelay  time.Duration
	PollInterval time.Duration
	Clock        clockwork.Clock
	OnChange     func(Snapshot)
}

type errKind int

const (
	errCamera errKind = iota
	errDecode
	errCallback
)

// Snapshot is the rendered state of a reader.
type Snapshot struct {
	State           ReadyState `json:"state"`
	Status          string     `json:"status"`
	ErrorTitle      string     `json:"errorTitle,omitempty"`
	Error           string     `json:"error,omitempty"`
	IsReadingWallet bool       `json:"isReadingWallet"`
	Progress        float64    `json:"progress"`
	ReceivedParts   int        `json:"receivedParts"`
	ExpectedParts   int        `json:"expectedParts"`
	Done            bool       `json:"done"`
	Closed          bool       `json:"closed"`
}

// Reader drives camera readiness and assembles scanned fragments into one UR.
// Every session (Open, TryAgain) runs under its own context; callbacks of an
// older session are dropped.
type Reader struct {
	camera    Camera
	platform  Platform
	onSuccess SuccessFunc
	opts      Options
	clock     clockwork.Clock

	mu       sync.Mutex
	parent   context.Context
	ctx      context.Context
	cancel   context.CancelFunc
	ready    ReadyState
	err      error
	errKind  errKind
	errTitle string
	decoder  *ur.Decoder
	poll     clockwork.Timer
	settle   clockwork.Timer
	done     bool
	closed   bool
}

func NewReader(camera Camera, platform Platform, onSuccess SuccessFunc, opts Options) *Reader {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 2 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	return &Reader{
		camera:    camera,
		platform:  platform,
		onSuccess: onSuccess,
		opts:      opts,
		clock:     opts.Clock,
		ready:     AccessingCamera,
		decoder:   ur.NewDecoder(),
	}
}

// Open starts the first session: check the environment, then the permissions.
func (r *Reader) Open(ctx context.Context) {
	r.mu.Lock()
	r.parent = ctx
	r.closed = false
	sess := r.resetLocked()
	r.mu.Unlock()
	r.notify()
	r.checkEnvironment(sess)
}

// TryAgain drops the current session and starts over.
func (r *Reader) TryAgain() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	sess := r.resetLocked()
	r.mu.Unlock()
	r.notify()
	r.checkEnvironment(sess)
}

// Close ends the session. Pending timers and late results are discarded.
func (r *Reader) Close() {
	r.mu.Lock()
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	r.stopTimersLocked()
	r.mu.Unlock()
	r.notify()
}

func (r *Reader) resetLocked() context.Context {
	if r.cancel != nil {
		r.cancel()
	}
	r.stopTimersLocked()
	parent := r.parent
	if parent == nil {
		parent = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(parent)
	r.ready = AccessingCamera
	r.err = nil
	r.errTitle = ""
	r.decoder = ur.NewDecoder()
	r.done = false
	return r.ctx
}

func (r *Reader) stopTimersLocked() {
	if r.poll != nil {
		r.poll.Stop()
		r.poll = nil
	}
	if r.settle != nil {
		r.settle.Stop()
		r.settle = nil
	}
}

func (r *Reader) checkEnvironment(ctx context.Context) {
	st, err := r.camera.CheckStatus(ctx)
	if err == nil && !st.EnvironmentReady && !r.platform.Fullscreen() {
		if oerr := r.platform.OpenExtensionInBrowser(r.opts.Route); oerr != nil {
			logger.Warn("failed to open fullscreen scanner: ", oerr)
		}
	}
	if err != nil {
		r.mu.Lock()
		if ctx.Err() == nil {
			r.cameraErrorLocked(ctx, err)
		}
		r.mu.Unlock()
		r.notify()
	}
	// the first permission check happens even when the environment is not ready
	r.checkPermissions(ctx)
}

func (r *Reader) checkPermissions(ctx context.Context) {
	st, err := r.camera.CheckStatus(ctx)

	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		r.cameraErrorLocked(ctx, err)
	case st.Permissions:
		if r.ready != Ready && r.settle == nil {
			// let the stream settle before scanning
			r.settle = r.clock.AfterFunc(r.opts.SettleDelay, func() {
				r.mu.Lock()
				if ctx.Err() != nil {
					r.mu.Unlock()
					return
				}
				r.settle = nil
				r.setReadyLocked(ctx, Ready)
				r.mu.Unlock()
				r.notify()
			})
		}
	default:
		r.schedulePollLocked(ctx)
		r.setReadyLocked(ctx, NeedToAllowAccess)
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Reader) schedulePollLocked(ctx context.Context) {
	if r.poll != nil {
		return
	}
	r.poll = r.clock.AfterFunc(r.opts.PollInterval, func() {
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		r.poll = nil
		r.mu.Unlock()
		r.checkPermissions(ctx)
	})
}

func (r *Reader) setReadyLocked(ctx context.Context, s ReadyState) {
	if r.ready == s {
		return
	}
	r.ready = s
	switch s {
	case Ready:
		go r.checkPermissions(ctx)
	case NeedToAllowAccess:
		r.schedulePollLocked(ctx)
	}
}

func (r *Reader) cameraErrorLocked(ctx context.Context, err error) {
	if errors.Is(err, ErrCameraNotAllowed) {
		logger.Info("permission denied: ", err)
		r.schedulePollLocked(ctx)
		r.setReadyLocked(ctx, NeedToAllowAccess)
		return
	}
	logger.Warn("camera error: ", err)
	r.err, r.errKind = err, errCamera
}

func (r *Reader) decodeErrorLocked(err error) {
	logger.Debug("qr decode failed: ", err)
	if r.opts.IsReadingWallet {
		r.errTitle = TitleUnknownWalletQR
	} else {
		r.errTitle = TitleInvalidTxQR
	}
	r.err, r.errKind = ErrUnknownQRCode, errDecode
}

// scanOutcome tells the caller what to do once r.mu is released.
type scanOutcome int

const (
	scanIgnored scanOutcome = iota
	scanChanged
	scanDone
)

// HandleScan feeds one scanned fragment to the decoder.
func (r *Reader) HandleScan(data string) {
	if data == "" {
		return
	}
	ctx, u, outcome := r.receive(func() (*ur.UR, error) {
		if _, err := r.decoder.ReceivePart(data); err != nil {
			return nil, err
		}
		if !r.decoder.IsComplete() {
			return nil, nil
		}
		return r.decoder.Result()
	}, false)
	r.finish(ctx, u, outcome)
}

// Paste decodes a complete single part UR typed or pasted by the user.
func (r *Reader) Paste(data string) {
	ctx, u, outcome := r.receive(func() (*ur.UR, error) {
		return ur.Decode(strings.TrimSpace(data))
	}, true)
	r.finish(ctx, u, outcome)
}

// receive runs decode under r.mu. A nil result without error means more
// fragments are needed. A panic inside decode still releases the lock.
func (r *Reader) receive(decode func() (*ur.UR, error), pasted bool) (context.Context, *ur.UR, scanOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil || r.done {
		return nil, nil, scanIgnored
	}
	if !pasted && r.err != nil && r.errKind != errCamera {
		return nil, nil, scanIgnored
	}
	u, err := decode()
	if err != nil {
		r.decodeErrorLocked(err)
		return nil, nil, scanChanged
	}
	if u == nil {
		return nil, nil, scanChanged
	}
	r.done = true
	if pasted {
		r.err = nil
	}
	return ctx, u, scanDone
}

func (r *Reader) finish(ctx context.Context, u *ur.UR, outcome scanOutcome) {
	switch outcome {
	case scanChanged:
		r.notify()
	case scanDone:
		r.deliver(ctx, u)
	}
}

func (r *Reader) deliver(ctx context.Context, u *ur.UR) {
	r.notify()
	if r.onSuccess == nil {
		return
	}
	if err := r.onSuccess(ctx, u); err != nil {
		logger.Warn("qr result rejected: ", err)
		r.mu.Lock()
		if ctx.Err() == nil {
			r.err, r.errKind = err, errCallback
		}
		r.mu.Unlock()
		r.notify()
	}
}

func (r *Reader) notify() {
	if r.opts.OnChange != nil {
		r.opts.OnChange(r.Snapshot())
	}
}

// Snapshot renders the current state and error overlay.
func (r *Reader) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		State:           r.ready,
		Status:          statusText(r.ready),
		IsReadingWallet: r.opts.IsReadingWallet,
		Progress:        r.decoder.Progress(),
		ReceivedParts:   r.decoder.ReceivedPartCount(),
		ExpectedParts:   r.decoder.ExpectedPartCount(),
		Done:            r.done,
		Closed:          r.closed,
	}
	if r.done {
		s.Progress = 1
	}
	s.ErrorTitle, s.Error = r.describeLocked()
	return s
}

func (r *Reader) describeLocked() (string, string) {
	if r.err == nil {
		return "", ""
	}
	switch {
	case errors.Is(r.err, ErrNoWebcam):
		return TitleNoWebcam, MsgNoWebcam
	case r.errKind == errDecode:
		return r.errTitle, MsgUnknownQRCode
	case errors.Is(r.err, keyring.ErrMismatchedSignID):
		return r.errTitle, MsgMismatchedSignID
	case r.errKind == errCallback:
		return r.errTitle, r.err.Error()
	}
	return TitleUnknownCamera, MsgUnknownCameraError
}

// Err is the error behind the current overlay.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
