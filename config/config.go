package config

import (
	"os"
	"path"
	"time"

	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/naoina/toml"
)

type Common struct {
	Level       string // local, alpha, prod
	ServiceName string
}

type LogInfo struct {
	Path        string
	MaxAgeHour  int
	RotateHour  int
	AlertURL    string
	AlertChatId int
}

type DB struct {
	Path string
}

// Vault holds the scrypt cost parameters of the keyring vault cipher.
type Vault struct {
	ScryptN int `toml:"ScryptN"`
	ScryptR int `toml:"ScryptR"`
	ScryptP int `toml:"ScryptP"`
}

type Server struct {
	Host     string `toml:"Host"`
	RestPort int    `toml:"RestPort"`

	// password attempts per client before a ban
	PasswordBurst     int `toml:"PasswordBurst"`
	PasswordPerMinute int `toml:"PasswordPerMinute"`
	PasswordBanSec    int `toml:"PasswordBanSec"`
}

// Signer configures the manual signature queue.
type Signer struct {
	// Mode is "signature-tail" (default) or "raw-transaction".
	Mode              string `toml:"Mode"`
	RequestTimeoutSec int    `toml:"RequestTimeoutSec"`
}

// Scanner configures the QR reader and frame scanner.
type Scanner struct {
	DevicePath         string `toml:"DevicePath"`
	FramesDir          string `toml:"FramesDir"`
	Fullscreen         bool   `toml:"Fullscreen"`
	SettleDelayMs      int    `toml:"SettleDelayMs"`
	PollIntervalMs     int    `toml:"PollIntervalMs"`
	ScanAttemptDelayMs int    `toml:"ScanAttemptDelayMs"`
	ScanSuccessDelayMs int    `toml:"ScanSuccessDelayMs"`
	MaxFragmentLen     int    `toml:"MaxFragmentLen"`
}

type Chain struct {
	ChainID int64 `toml:"ChainID"`
}

type Config struct {
	Common  Common
	LogInfo LogInfo
	DB      DB
	Vault   Vault
	Server  Server
	Signer  Signer
	Scanner Scanner
	Chain   Chain
}

func NewConfig(filepath string) (*Config, error) {
	if filepath == "" {
		workDir, _ := os.Getwd()
		rootDir := utils.FindProjectRoot(workDir)
		filepath = path.Join(rootDir, "config", "config.toml")
	}

	if file, err := os.Open(filepath); err != nil {
		return nil, err
	} else {
		defer file.Close()

		c := new(Config)
		if err := toml.NewDecoder(file).Decode(c); err != nil {
			return nil, err
		} else {
			c.sanitize()
			return c, nil
		}
	}
}

// DefaultConfig returns the built-in defaults, the same values as config/config.toml.
func DefaultConfig() *Config {
	c := &Config{
		Common:  Common{Level: "prod", ServiceName: "abcfe-wallet"},
		LogInfo: LogInfo{Path: "./log/abcfe-wallet"},
		DB:      DB{Path: "./resource/db/"},
	}
	c.sanitize()
	return c
}

func (p *Config) sanitize() {
	if len(p.LogInfo.Path) > 0 && p.LogInfo.Path[0] == byte('~') {
		p.LogInfo.Path = path.Join(utils.HomeDir(), p.LogInfo.Path[1:])
	}
	if len(p.DB.Path) > 0 && p.DB.Path[0] == byte('~') {
		p.DB.Path = path.Join(utils.HomeDir(), p.DB.Path[1:]) + "/"
	}
	if p.LogInfo.MaxAgeHour == 0 {
		p.LogInfo.MaxAgeHour = 24 * 7
	}
	if p.LogInfo.RotateHour == 0 {
		p.LogInfo.RotateHour = 24
	}
	if p.Vault.ScryptN == 0 {
		p.Vault.ScryptN = 1 << 15
	}
	if p.Vault.ScryptR == 0 {
		p.Vault.ScryptR = 8
	}
	if p.Vault.ScryptP == 0 {
		p.Vault.ScryptP = 1
	}
	if p.Server.Host == "" {
		p.Server.Host = "127.0.0.1"
	}
	if p.Server.RestPort == 0 {
		p.Server.RestPort = 8600
	}
	if p.Server.PasswordBurst == 0 {
		p.Server.PasswordBurst = 5
	}
	if p.Server.PasswordPerMinute == 0 {
		p.Server.PasswordPerMinute = 5
	}
	if p.Server.PasswordBanSec == 0 {
		p.Server.PasswordBanSec = 60
	}
	if p.Signer.Mode == "" {
		p.Signer.Mode = "signature-tail"
	}
	if p.Signer.RequestTimeoutSec == 0 {
		p.Signer.RequestTimeoutSec = 600
	}
	if p.Scanner.DevicePath == "" {
		p.Scanner.DevicePath = "/dev/video0"
	}
	if p.Scanner.SettleDelayMs == 0 {
		p.Scanner.SettleDelayMs = 2000
	}
	if p.Scanner.PollIntervalMs == 0 {
		p.Scanner.PollIntervalMs = 1000
	}
	if p.Scanner.ScanAttemptDelayMs == 0 {
		p.Scanner.ScanAttemptDelayMs = 100
	}
	if p.Scanner.ScanSuccessDelayMs == 0 {
		p.Scanner.ScanSuccessDelayMs = 100
	}
	if p.Scanner.MaxFragmentLen == 0 {
		p.Scanner.MaxFragmentLen = 200
	}
	if p.Chain.ChainID == 0 {
		p.Chain.ChainID = 1
	}
}

func (p *Config) GetConfig() *Config {
	return p
}

func (p *Config) GetLogInfoConfig() *LogInfo {
	return &p.LogInfo
}

func (p *Config) SignRequestTimeout() time.Duration {
	return time.Duration(p.Signer.RequestTimeoutSec) * time.Second
}

func (p *Config) SettleDelay() time.Duration {
	return time.Duration(p.Scanner.SettleDelayMs) * time.Millisecond
}

func (p *Config) PollInterval() time.Duration {
	return time.Duration(p.Scanner.PollIntervalMs) * time.Millisecond
}

func (p *Config) ScanAttemptDelay() time.Duration {
	return time.Duration(p.Scanner.ScanAttemptDelayMs) * time.Millisecond
}

func (p *Config) ScanSuccessDelay() time.Duration {
	return time.Duration(p.Scanner.ScanSuccessDelayMs) * time.Millisecond
}
