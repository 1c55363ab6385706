package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codexgate/archive"
	"codexgate/gateway"
	"codexgate/session"
)

func main() {
	app := &cli.App{
		Name:  "codexgate",
		Usage: "HTTP gateway that runs codex-app-server executions and streams their events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "0.0.0.0:8080",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "app-server-path",
				Usage: "Path to the codex-app-server binary. Located automatically when unset.",
			},
			&cli.StringFlag{
				Name:  "archive-dir",
				Usage: "Local directory to archive execution records into.",
			},
			&cli.StringFlag{
				Name:  "archive-s3-bucket",
				Usage: "S3 bucket to archive execution records into.",
			},
			&cli.StringFlag{
				Name:  "archive-sqlite-path",
				Usage: "SQLite database file to archive execution records into.",
			},
			&cli.Float64Flag{
				Name:  "rate-limit",
				Usage: "Maximum exec requests per second. 0 disables rate limiting.",
			},
			&cli.IntFlag{
				Name:  "rate-burst",
				Usage: "Burst size for the rate limiter.",
				Value: 1,
			},
		},
		Action: func(ctx *cli.Context) error {
			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logger, err := zap.NewProduction(zap.IncreaseLevel(level))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			store, err := buildArchiveStore(ctx)
			if err != nil {
				return err
			}

			runnerOpts := []session.RunnerOption{
				session.WithRunnerLogger(logger),
				session.WithArchiveStore(store),
			}
			if path := ctx.String("app-server-path"); path != "" {
				runnerOpts = append(runnerOpts, session.WithBinaryPath(path))
			}
			runner, err := session.NewRunner(runnerOpts...)
			if err != nil {
				return fmt.Errorf("building runner: %w", err)
			}

			gwOpts := []gateway.Option{
				gateway.WithLogger(logger),
				gateway.WithListenAddr(ctx.String("listen-addr")),
				gateway.WithAPIKey(os.Getenv("GATEWAY_API_KEY")),
			}
			if rps := ctx.Float64("rate-limit"); rps > 0 {
				gwOpts = append(gwOpts, gateway.WithRateLimit(rps, ctx.Int("rate-burst")))
			}
			gw, err := gateway.New(runner, gwOpts...)
			if err != nil {
				return fmt.Errorf("building gateway: %w", err)
			}

			logger.Sugar().Infow("starting gateway", "listen_addr", ctx.String("listen-addr"))
			return gw.Run()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// buildArchiveStore picks the archival destination from the flags. At most
// one may be set; none means records are discarded.
func buildArchiveStore(ctx *cli.Context) (archive.Store, error) {
	dir := ctx.String("archive-dir")
	bucket := ctx.String("archive-s3-bucket")
	dbPath := ctx.String("archive-sqlite-path")

	configured := 0
	for _, v := range []string{dir, bucket, dbPath} {
		if v != "" {
			configured++
		}
	}
	if configured > 1 {
		return nil, fmt.Errorf("at most one of --archive-dir, --archive-s3-bucket, --archive-sqlite-path may be set")
	}

	switch {
	case dir != "":
		return archive.NewDirStore(dir), nil
	case bucket != "":
		return archive.NewS3Store(bucket)
	case dbPath != "":
		return archive.NewSQLiteStore(dbPath)
	default:
		return archive.NopStore{}, nil
	}
}
