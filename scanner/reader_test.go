package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	mu    sync.Mutex
	st    Status
	err   error
	calls int
}

func (c *fakeCamera) CheckStatus(context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.st, c.err
}

func (c *fakeCamera) set(st Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st, c.err = st, err
}

func (c *fakeCamera) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakePlatform struct {
	fullscreen bool
	mu         sync.Mutex
	routes     []string
}

func (p *fakePlatform) Fullscreen() bool { return p.fullscreen }

func (p *fakePlatform) OpenExtensionInBrowser(route string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes = append(p.routes, route)
	return nil
}

var granted = Status{EnvironmentReady: true, Permissions: true}

func newTestReader(cam Camera, onSuccess SuccessFunc, wallet bool) (*Reader, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	r := NewReader(cam, &fakePlatform{fullscreen: true}, onSuccess, Options{
		IsReadingWallet: wallet,
		SettleDelay:     2 * time.Second,
		PollInterval:    time.Second,
		Clock:           clock,
	})
	return r, clock
}

func waitTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func eventuallyState(t *testing.T, r *Reader, want ReadyState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Snapshot().State == want }, 2*time.Second, 5*time.Millisecond)
}

func TestPermissionPolling(t *testing.T) {
	cam := &fakeCamera{st: Status{EnvironmentReady: true}}
	r, clock := newTestReader(cam, nil, true)
	r.Open(context.Background())
	defer r.Close()

	assert.Equal(t, NeedToAllowAccess, r.Snapshot().State)
	assert.Equal(t, StatusAllowAccess, r.Snapshot().Status)
	waitTimers(t, clock, 1)

	// still pending: the poll is rescheduled
	before := cam.callCount()
	clock.Advance(time.Second)
	waitTimers(t, clock, 1)
	assert.Greater(t, cam.callCount(), before)
	assert.Equal(t, NeedToAllowAccess, r.Snapshot().State)

	// granted: settle for two seconds, then ready
	cam.set(granted, nil)
	clock.Advance(time.Second)
	waitTimers(t, clock, 1)
	assert.Equal(t, NeedToAllowAccess, r.Snapshot().State)

	clock.Advance(time.Second)
	assert.Equal(t, NeedToAllowAccess, r.Snapshot().State)
	clock.Advance(time.Second)
	eventuallyState(t, r, Ready)
	assert.Equal(t, StatusScanning, r.Snapshot().Status)
	assert.Empty(t, r.Snapshot().Error)
}

func TestGrantedCameraSettlesBeforeReady(t *testing.T) {
	cam := &fakeCamera{st: granted}
	r, clock := newTestReader(cam, nil, true)
	r.Open(context.Background())
	defer r.Close()

	assert.Equal(t, AccessingCamera, r.Snapshot().State)
	waitTimers(t, clock, 1)
	clock.Advance(2 * time.Second)
	eventuallyState(t, r, Ready)
}

func TestEnvironmentNotReadyOpensFullscreen(t *testing.T) {
	cam := &fakeCamera{st: Status{Permissions: true}}
	plat := &fakePlatform{}
	r := NewReader(cam, plat, nil, Options{Route: "/qr/sessions/abc", Clock: clockwork.NewFakeClock()})
	r.Open(context.Background())
	defer r.Close()
	assert.Equal(t, []string{"/qr/sessions/abc"}, plat.routes)

	plat = &fakePlatform{fullscreen: true}
	r2 := NewReader(cam, plat, nil, Options{Clock: clockwork.NewFakeClock()})
	r2.Open(context.Background())
	defer r2.Close()
	assert.Empty(t, plat.routes)
}

func TestCameraErrors(t *testing.T) {
	t.Run("not allowed polls", func(t *testing.T) {
		cam := &fakeCamera{err: ErrCameraNotAllowed}
		r, clock := newTestReader(cam, nil, true)
		r.Open(context.Background())
		defer r.Close()
		snap := r.Snapshot()
		assert.Equal(t, NeedToAllowAccess, snap.State)
		assert.Empty(t, snap.Error)
		waitTimers(t, clock, 1)
	})

	t.Run("no webcam", func(t *testing.T) {
		cam := &fakeCamera{err: ErrNoWebcam}
		r, _ := newTestReader(cam, nil, true)
		r.Open(context.Background())
		defer r.Close()
		snap := r.Snapshot()
		assert.Equal(t, TitleNoWebcam, snap.ErrorTitle)
		assert.Equal(t, MsgNoWebcam, snap.Error)
	})

	t.Run("unknown", func(t *testing.T) {
		cam := &fakeCamera{err: errors.New("ioctl failed")}
		r, _ := newTestReader(cam, nil, false)
		r.Open(context.Background())
		defer r.Close()
		snap := r.Snapshot()
		assert.Equal(t, TitleUnknownCamera, snap.ErrorTitle)
		assert.Equal(t, MsgUnknownCameraError, snap.Error)
	})
}

func TestCloseDiscardsTimers(t *testing.T) {
	cam := &fakeCamera{st: Status{EnvironmentReady: true}}
	r, clock := newTestReader(cam, nil, true)
	r.Open(context.Background())
	waitTimers(t, clock, 1)

	r.Close()
	calls := cam.callCount()
	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, cam.callCount())
	assert.True(t, r.Snapshot().Closed)

	r.HandleScan("ur:bytes/anything")
	assert.Empty(t, r.Snapshot().Error)
}

func TestTryAgainResets(t *testing.T) {
	cam := &fakeCamera{err: ErrNoWebcam}
	r, clock := newTestReader(cam, nil, true)
	r.Open(context.Background())
	defer r.Close()
	require.Equal(t, MsgNoWebcam, r.Snapshot().Error)

	cam.set(granted, nil)
	r.TryAgain()
	snap := r.Snapshot()
	assert.Empty(t, snap.Error)
	assert.Equal(t, AccessingCamera, snap.State)
	waitTimers(t, clock, 1)
	clock.Advance(2 * time.Second)
	eventuallyState(t, r, Ready)
}

type recorder struct {
	mu  sync.Mutex
	got []*ur.UR
	err error
}

func (rc *recorder) success(_ context.Context, u *ur.UR) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.got = append(rc.got, u)
	return rc.err
}

func (rc *recorder) results() []*ur.UR {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]*ur.UR(nil), rc.got...)
}

func testUR(t *testing.T, n int) *ur.UR {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	u, err := ur.FromBytes(data)
	require.NoError(t, err)
	return u
}

func TestHandleScanDeliversOnce(t *testing.T) {
	rc := &recorder{}
	r, _ := newTestReader(&fakeCamera{st: granted}, rc.success, true)
	r.Open(context.Background())
	defer r.Close()

	u := testUR(t, 300)
	parts, err := ur.EncodeAll(u, 50)
	require.NoError(t, err)
	require.Greater(t, len(parts), 2)

	r.HandleScan("")
	for i, p := range parts[:len(parts)-1] {
		r.HandleScan(p)
		snap := r.Snapshot()
		assert.False(t, snap.Done, "part %d", i)
		assert.Equal(t, len(parts), snap.ExpectedParts)
	}
	assert.Empty(t, rc.results())

	r.HandleScan(parts[len(parts)-1])
	got := rc.results()
	require.Len(t, got, 1)
	assert.Equal(t, u.CBOR, got[0].CBOR)
	assert.True(t, r.Snapshot().Done)
	assert.Equal(t, float64(1), r.Snapshot().Progress)

	// further frames are ignored
	r.HandleScan(parts[0])
	assert.Len(t, rc.results(), 1)
}

func TestMalformedFragment(t *testing.T) {
	r, _ := newTestReader(&fakeCamera{st: granted}, nil, true)
	r.Open(context.Background())
	defer r.Close()
	r.HandleScan("not a ur")
	snap := r.Snapshot()
	assert.Equal(t, TitleUnknownWalletQR, snap.ErrorTitle)
	assert.Equal(t, MsgUnknownQRCode, snap.Error)
	assert.ErrorIs(t, r.Err(), ErrUnknownQRCode)

	tx, _ := newTestReader(&fakeCamera{st: granted}, nil, false)
	tx.Open(context.Background())
	defer tx.Close()
	tx.HandleScan("ur:eth-signature/1-2-zzzz")
	snap = tx.Snapshot()
	assert.Equal(t, TitleInvalidTxQR, snap.ErrorTitle)
	assert.Equal(t, MsgUnknownQRCode, snap.Error)

	// retry clears the overlay
	tx.TryAgain()
	assert.Empty(t, tx.Snapshot().Error)
}

func TestInconsistentFragmentKeepsReaderUsable(t *testing.T) {
	r, _ := newTestReader(&fakeCamera{st: granted}, nil, true)
	r.Open(context.Background())
	defer r.Close()

	// announces a 1000 byte message carried by a single 5 byte fragment
	require.NotPanics(t, func() {
		r.HandleScan("ur:bytes/1-1/lpadadcfaxvscyflbdnlwkfeadaoaxaaahiosecees")
	})
	done := make(chan Snapshot, 1)
	go func() { done <- r.Snapshot() }()
	select {
	case snap := <-done:
		assert.Equal(t, MsgUnknownQRCode, snap.Error)
		assert.False(t, snap.Done)
	case <-time.After(2 * time.Second):
		t.Fatal("reader still locked after a rejected fragment")
	}
}

func TestCallbackErrors(t *testing.T) {
	rc := &recorder{err: keyring.ErrMismatchedSignID}
	r, _ := newTestReader(&fakeCamera{st: granted}, rc.success, false)
	r.Open(context.Background())
	defer r.Close()

	r.HandleScan(testUR(t, 10).String())
	snap := r.Snapshot()
	assert.Equal(t, MsgMismatchedSignID, snap.Error)

	rc2 := &recorder{err: keyring.ErrDuplicateAccount}
	r2, _ := newTestReader(&fakeCamera{st: granted}, rc2.success, true)
	r2.Open(context.Background())
	defer r2.Close()
	r2.HandleScan(testUR(t, 10).String())
	assert.Equal(t, keyring.ErrDuplicateAccount.Error(), r2.Snapshot().Error)
}

func TestPaste(t *testing.T) {
	rc := &recorder{}
	r, _ := newTestReader(&fakeCamera{st: granted}, rc.success, true)
	r.Open(context.Background())
	defer r.Close()

	r.Paste("garbage")
	assert.Equal(t, MsgUnknownQRCode, r.Snapshot().Error)

	u := testUR(t, 20)
	r.Paste("  " + u.String() + "\n")
	got := rc.results()
	require.Len(t, got, 1)
	assert.Equal(t, u.CBOR, got[0].CBOR)
	assert.Empty(t, r.Snapshot().Error)
}
