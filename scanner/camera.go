package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/abcfe/abcfe-wallet/common/logger"
)

// Status is the camera environment as seen by the wallet process.
type Status struct {
	EnvironmentReady bool
	Permissions      bool
}

type Camera interface {
	CheckStatus(ctx context.Context) (Status, error)
}

// Platform opens the scanner somewhere the camera can be used.
type Platform interface {
	Fullscreen() bool
	OpenExtensionInBrowser(route string) error
}

// DeviceCamera checks a V4L device node. The node being a character device makes the
// environment ready, being able to open it grants permission.
type DeviceCamera struct {
	Path string
}

func NewDeviceCamera(path string) *DeviceCamera {
	return &DeviceCamera{Path: path}
}

func (c *DeviceCamera) CheckStatus(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	fi, err := os.Stat(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Status{}, fmt.Errorf("%w: %s", ErrNoWebcam, c.Path)
	}
	if err != nil {
		return Status{}, err
	}

	st := Status{EnvironmentReady: fi.Mode()&os.ModeCharDevice != 0}
	f, err := os.OpenFile(c.Path, os.O_RDONLY, 0)
	if errors.Is(err, fs.ErrPermission) {
		return st, fmt.Errorf("%w: %s", ErrCameraNotAllowed, c.Path)
	}
	if err != nil {
		return st, err
	}
	f.Close()
	st.Permissions = true
	return st, nil
}

// NotifyPlatform hands the route to a callback instead of opening a browser tab.
type NotifyPlatform struct {
	fullscreen bool
	notify     func(route string)
}

func NewNotifyPlatform(fullscreen bool, notify func(route string)) *NotifyPlatform {
	return &NotifyPlatform{fullscreen: fullscreen, notify: notify}
}

func (p *NotifyPlatform) Fullscreen() bool { return p.fullscreen }

func (p *NotifyPlatform) OpenExtensionInBrowser(route string) error {
	logger.Info("open the scanner in fullscreen: ", route)
	if p.notify != nil {
		p.notify(route)
	}
	return nil
}
