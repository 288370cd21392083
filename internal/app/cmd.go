package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

// サブコマンド名
const (
	// CommandServe はHTTPシェルを起動する。サブコマンド省略時のデフォルト。
	CommandServe = "serve"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate = "migrate"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck = "healthcheck"
	// CommandRoutes はルート分類ルールのデバッグ用コマンド。
	CommandRoutes = "routes"
)

// runner はサブコマンドのアクションを保持する。
type runner struct {
	out io.Writer
}

// NewCommand はアプリケーションのコマンドツリーを構成する。
// ログとコマンドの出力はwに書き込む。
func NewCommand(w io.Writer) *cli.Command {
	if w == nil {
		w = os.Stdout
	}
	r := &runner{out: w}

	return &cli.Command{
		Name:   "rovify",
		Usage:  "Rovify auth session shell",
		Writer: w,
		// サブコマンド省略時はserveとして起動する
		Action: r.serve,
		Commands: []*cli.Command{
			{
				Name:   CommandServe,
				Usage:  "Start the HTTP shell",
				Action: r.serve,
			},
			{
				Name:   CommandMigrate,
				Usage:  "Apply profile database and local state migrations",
				Action: r.migrate,
			},
			{
				Name:  CommandHealthcheck,
				Usage: "Probe the /health endpoint of a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "Health endpoint URL (default: http://localhost:$SERVER_PORT/health)",
					},
				},
				Action: r.healthcheck,
			},
			{
				Name:  CommandRoutes,
				Usage: "Inspect route classification rules",
				Commands: []*cli.Command{
					{
						Name:      "classify",
						Usage:     "Print the class and gate decisions for each path",
						ArgsUsage: "<path>...",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "routes",
								Aliases: []string{"r"},
								Usage:   "Route rules TOML file (default: embedded rules)",
								Sources: cli.EnvVars("ROUTES_FILE"),
							},
						},
						Action: r.classifyRoutes,
					},
				},
			},
		},
	}
}

func (r *runner) serve(ctx context.Context, _ *cli.Command) error {
	cfg, log, err := Init(r.out)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	return runServe(ctx, cfg, log)
}

func (r *runner) migrate(ctx context.Context, _ *cli.Command) error {
	cfg, log, err := Init(r.out)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	return runMigrate(cfg, log)
}

// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
func (r *runner) healthcheck(ctx context.Context, cmd *cli.Command) error {
	target := cmd.String("url")
	if target == "" {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		target = fmt.Sprintf("http://localhost:%s/health", port)
	}
	return runHealthcheck(ctx, target)
}

func (r *runner) classifyRoutes(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	rules, err := loadRules(cmd.String("routes"))
	if err != nil {
		return err
	}
	return writeClassification(r.out, rules, paths)
}
