package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Controller is what reader sessions hand their results to.
type Controller interface {
	HardwareImporter
	ExpectSignature(requestID string) func(*ur.UR) error
}

type Session struct {
	ID        string  `json:"id"`
	Purpose   Purpose `json:"purpose"`
	RequestID string  `json:"requestId,omitempty"`

	Reader   *Reader         `json:"-"`
	Enhanced *EnhancedReader `json:"-"`
	// Frames receives frames pushed over the API.
	Frames   *MemorySource   `json:"-"`
}

// Manager owns the open reader sessions of the daemon.
type Manager struct {
	cfg      config.Scanner
	camera   Camera
	platform Platform
	ctrl     Controller
	clock    clockwork.Clock
	onChange func(id string, s Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg config.Scanner, camera Camera, platform Platform, ctrl Controller,
	clock clockwork.Clock, onChange func(id string, s Snapshot)) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		camera:   camera,
		platform: platform,
		ctrl:     ctrl,
		clock:    clock,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Open starts a reader session. Signature sessions only accept the eth-signature of requestID.
func (m *Manager) Open(purpose Purpose, requestID string) (*Session, error) {
	var onSuccess SuccessFunc
	switch purpose {
	case PurposeWallet:
		onSuccess = ImportWallet(m.ctrl)
	case PurposeSignature:
		onSuccess = AcceptSignature(m.ctrl.ExpectSignature(requestID))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}

	s := &Session{ID: uuid.NewString(), Purpose: purpose, RequestID: requestID}
	s.Reader = NewReader(m.camera, m.platform, onSuccess, Options{
		IsReadingWallet: purpose == PurposeWallet,
		Route:           "/qr/sessions/" + s.ID,
		SettleDelay:     ms(m.cfg.SettleDelayMs),
		PollInterval:    ms(m.cfg.PollIntervalMs),
		Clock:           m.clock,
		OnChange: func(snap Snapshot) {
			if m.onChange != nil {
				m.onChange(s.ID, snap)
			}
		},
	})

	var source FrameSource
	if m.cfg.FramesDir != "" {
		source = NewDirSource(m.cfg.FramesDir)
	} else {
		s.Frames = NewMemorySource(0)
		source = s.Frames
	}
	frames := NewFrameScanner(source, m.clock, ms(m.cfg.ScanAttemptDelayMs), ms(m.cfg.ScanSuccessDelayMs))
	s.Enhanced = NewEnhancedReader(s.Reader, frames, m.ctrl)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	s.Reader.Open(m.ctx)
	if err := s.Enhanced.Start(m.ctx); err != nil {
		logger.Warn("frame scanner not started: ", err)
	}
	logger.Info("qr session opened: ", s.ID, " purpose=", purpose)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Enhanced.Stop()
	s.Reader.Close()
	logger.Info("qr session closed: ", id)
	return nil
}

// CloseAll ends every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
	m.cancel()
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
