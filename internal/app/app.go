// Package app はアプリケーションの起動・依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rovify/rovify/internal/config"
	"github.com/rovify/rovify/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(os.Getenv("DOTENV_PATH")); err != nil {
		return nil, nil, fmt.Errorf("failed to load dotenv: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映
	if level := logger.ParseLevel(cfg.LogLevel); level != slog.LevelInfo {
		log = logger.SetupDefault(w, level)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Argsを渡す。
func Run(ctx context.Context, w io.Writer, args []string) error {
	return NewCommand(w).Run(ctx, args)
}
