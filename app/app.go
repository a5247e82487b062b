package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/api/rest"
	"github.com/abcfe/abcfe-wallet/common/logger"
	conf "github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/jonboulle/clockwork"
)

type App struct {
	stop       chan struct{}
	Conf       conf.Config
	DB         *storage.DB
	Queue      *signer.Queue
	Keyring    *keyring.Controller
	Scanners   *scanner.Manager
	wsHub      *api.WSHub
	restServer *rest.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func New(configPath string) (*App, error) {
	cfg, err := conf.NewConfig(configPath)
	if err != nil {
		fmt.Println("Failed to initialized application: ", err)
		return nil, err
	}

	if err := logger.InitLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig wires every service around an already loaded config
func NewWithConfig(cfg *conf.Config) (*App, error) {
	db, err := storage.InitDB(cfg)
	if err != nil {
		logger.Error("Failed to load db: ", err)
		return nil, err
	}

	clock := clockwork.NewRealClock()
	queue := signer.NewQueue(cfg.SignRequestTimeout(), clock)
	vault := storage.NewVault(db, cfg.Vault)
	ctrl := keyring.NewController(vault, storage.NewPreferences(db), keyring.Env{
		Signer:         queue,
		ManualMode:     keyring.ManualMode(cfg.Signer.Mode),
		MaxFragmentLen: cfg.Scanner.MaxFragmentLen,
		Origin:         cfg.Common.ServiceName,
	})

	exists, err := ctrl.VaultExists()
	if err != nil {
		logger.Error("Failed to read vault: ", err)
		db.Close()
		return nil, err
	}
	logger.Info("vault present: ", exists, " signer mode: ", cfg.Signer.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := api.NewWSHub()
	hub.SetKeyringStateProvider(ctrl.State)
	hub.SetPendingRequestsProvider(queue.Pending)

	platform := scanner.NewNotifyPlatform(cfg.Scanner.Fullscreen, func(route string) {
		hub.Broadcast(api.EventScannerState, map[string]string{"openRoute": route})
	})
	scanners := scanner.NewManager(cfg.Scanner, scanner.NewDeviceCamera(cfg.Scanner.DevicePath), platform,
		ctrl, clock, func(id string, s scanner.Snapshot) {
			hub.BroadcastScannerState(id, s)
		})

	app := &App{
		stop:     make(chan struct{}),
		Conf:     *cfg,
		DB:       db,
		Queue:    queue,
		Keyring:  ctrl,
		Scanners: scanners,
		wsHub:    hub,
		ctx:      ctx,
		cancel:   cancel,
	}

	// Initialize REST API server
	app.restServer = rest.NewServer(cfg, ctrl, queue, scanners, hub)

	return app, nil
}

// StartAll starts the WebSocket hub, its event feeds and the REST API
func (p *App) StartAll() error {
	go p.wsHub.Run(p.ctx)
	p.wsHub.Follow(p.ctx, p.Keyring, p.Queue)

	if err := p.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start REST API server: %w", err)
	}

	logger.Info("All services started successfully")
	return nil
}

// Cleanup releases every resource
func (p *App) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.Scanners != nil {
		p.Scanners.CloseAll()
		logger.Info("QR reader sessions closed")
	}

	// pending sign requests fail with ErrQueueClosed
	if p.Queue != nil {
		p.Queue.Close()
	}

	if p.restServer != nil {
		if err := p.restServer.Stop(ctx); err != nil {
			logger.Error("Error stopping REST API server:", err)
		}
	}
	p.cancel()

	if p.Keyring != nil {
		p.Keyring.Lock()
	}

	if p.DB != nil {
		if err := p.DB.Close(); err != nil {
			logger.Error("Error closing DB connection:", err)
		}
	}

	logger.Info("All resources cleaned up")
	logger.Sync()
}

func (p *App) Wait() {
	<-p.stop
}

func (p *App) Terminate() {
	p.Cleanup()
	close(p.stop)
}

func (p *App) SigHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Arrived terminate signal: ", sig)
		p.Terminate()
	}()
}
