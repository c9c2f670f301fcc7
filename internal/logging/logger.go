// Package logging はアプリケーション共通の zerolog ロガーを提供します。
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config はベースロガーの設定です。
type Config struct {
	Level   string    // ログレベル（"debug", "info" など）
	Output  io.Writer // 出力先（既定は os.Stdout）
	Service string    // すべてのログに付与するサービス名
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure はベースロガーを一度だけ初期化します。
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stdout
		}

		service := cfg.Service
		if service == "" {
			service = "pdf-squeeze"
		}

		base = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

// Base は設定済みのベースロガーを返します。
func Base() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent はコンポーネント名付きの子ロガーを返します。
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
