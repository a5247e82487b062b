package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	conf "github.com/abcfe/abcfe-wallet/config"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger stays a no-op until InitLogger runs, so library code and tests can log freely.
var logger = zap.NewNop()
var stag string
var cf *conf.Config

func InitLogger(cfg *conf.Config) error {
	now := time.Now()
	lPath := fmt.Sprintf("%s_%s.log", cfg.LogInfo.Path, now.Format("2006-01-02"))
	cf = cfg

	// -debug on the command line forces "alpha" regardless of the config file
	for _, arg := range os.Args {
		if arg == "-debug" || arg == "--debug" {
			cfg.Common.Level = "alpha"
			break
		}
	}
	if cfg.Common.Level == "" {
		cfg.Common.Level = "prod"
	}

	rotator, err := rotatelogs.New(
		lPath,
		rotatelogs.WithMaxAge(time.Duration(cfg.LogInfo.MaxAgeHour)*time.Hour),
		rotatelogs.WithRotationTime(time.Duration(cfg.LogInfo.RotateHour)*time.Hour))
	if err != nil {
		return err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "date",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	w := zapcore.AddSync(rotator)
	cw := zapcore.AddSync(os.Stdout)
	var core zapcore.Core
	stag = cfg.Common.Level
	if stag == "alpha" {
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.DebugLevel),
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), cw, zap.DebugLevel),
		)
	} else {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.InfoLevel)
	}
	logger = zap.New(core)

	logger.Info("logging init file start", zap.String("path", lPath))
	return nil
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	_ = logger.Sync()
}

func join(ctx []interface{}) string {
	var b bytes.Buffer
	for _, str := range ctx {
		b.WriteString(fmt.Sprintf("%v", str))
	}
	return b.String()
}

func Debug(ctx ...interface{}) {
	logger.Debug("debug", zap.String("Debug", join(ctx)))
}

// Info is a convenient alias for Root().Info
func Info(ctx ...interface{}) {
	logger.Info("info", zap.String("Info", join(ctx)))
}

// Warn is a convenient alias for Root().Warn
func Warn(ctx ...interface{}) {
	logger.Warn("warn", zap.String("Warn", join(ctx)))
}

// Error is a convenient alias for Root().Error
func Error(ctx ...interface{}) {
	msg := join(ctx)
	logger.Error("error", zap.String("Err", msg))
	if stag == "prod" && cf != nil && cf.LogInfo.AlertURL != "" {
		go sendAlert(cf, msg)
	}
}

func Crit(ctx ...interface{}) {
	msg := join(ctx)
	if stag == "prod" && cf != nil && cf.LogInfo.AlertURL != "" {
		sendAlert(cf, msg)
	}
	logger.Fatal("panic", zap.String("Crit", msg))
}

// sendAlert posts the message to the configured webhook (chat bot style payload).
func sendAlert(cf *conf.Config, body string) bool {
	path, _ := os.Getwd()
	msg := "[" + cf.Common.ServiceName + "_" + cf.Common.Level + "] " + body + "\nModule : " + path

	pbytes, _ := json.Marshal(map[string]interface{}{"chat_id": cf.LogInfo.AlertChatId, "text": msg})
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(cf.LogInfo.AlertURL, "application/json", bytes.NewBuffer(pbytes))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Error handling
func HandleErr(err error) {
	if err != nil {
		Error(err)
	}
}
