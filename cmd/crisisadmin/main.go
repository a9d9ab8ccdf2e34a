package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/config"
	"github.com/guarzo/crisiscircle/modules/admin"
	"github.com/guarzo/crisiscircle/modules/auth"
	"github.com/guarzo/crisiscircle/modules/shell"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

const usageText = `usage: crisisadmin [-debug] [-metrics] <command> [flags]

commands:
  login -email E -password P   sign in and store the credentials
  logout                       clear the stored credentials
  status                       show the stored session
  refresh                      exchange the refresh token now
  dashboard                    dashboard and announcement statistics
  users list|approve|reject    manage user accounts
  announcements list|stats|create|update|delete|pin|activate|cleanup
  items list                   list the help-item inventory
  watch                        print logouts made by other processes

configuration is read from the environment (CRISISCIRCLE_API_URL,
CRISISCIRCLE_TOKEN_STORE, REDIS_ADDR, LOG_LEVEL, ...)`

// usageError marks bad command lines; they exit with status 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("crisisadmin", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprintln(stderr, usageText) }
	debug := global.Bool("debug", false, "log at debug level")
	showMetrics := global.Bool("metrics", false, "print client metrics to stderr on exit")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg := config.Load()
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	a, err := newApp(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer a.close()

	err = a.dispatch(ctx, global.Args())
	if *showMetrics {
		a.printMetrics(ctx)
	}
	if err != nil {
		var uErr *usageError
		if errors.As(err, &uErr) {
			fmt.Fprintln(stderr, uErr.msg)
			fmt.Fprintln(stderr, usageText)
			return 2
		}
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintln(stderr, "error:", admin.ErrorMessage(err, "request failed"))
		return 1
	}
	return 0
}

// app is the wiring shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    common.KeyValueStore
	session  *auth.Session
	client   *auth.Client
	admin    admin.AdminService
	shell    *shell.Shell
	recorder *common.Recorder
	stdout   io.Writer
	stderr   io.Writer
	closers  []func()
}

func newApp(cfg config.Config, stdout, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}
	a.logger = common.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)

	rec, err := common.NewRecorder()
	if err != nil {
		return nil, err
	}
	a.recorder = rec
	a.closers = append(a.closers, func() { _ = rec.Shutdown(context.Background()) })

	store, closeStore, err := openStore(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	httpClient := common.NewAPIHttpClient(cfg.UserAgent, &http.Client{})
	a.closers = append(a.closers, httpClient.CloseIdleConnections)

	authAPI := auth.NewAuthAPI(cfg.APIURL, httpClient, a.logger, rec.Metrics)
	a.session = auth.NewSession(store, authAPI,
		auth.WithSessionLogger(a.logger),
		auth.WithSessionMetrics(rec.Metrics),
	)
	a.client = auth.NewClient(cfg.APIURL, httpClient, a.session,
		auth.WithLogger(a.logger),
		auth.WithMetrics(rec.Metrics),
	)
	a.admin = admin.NewAdminService(admin.NewAdminClient(a.client), a.logger)
	a.shell = shell.New(a.session, store, a.logger)
	return a, nil
}

// openStore builds the credential store named by the configuration.
func openStore(cfg config.Config) (common.KeyValueStore, func(), error) {
	switch cfg.TokenStore {
	case config.StoreMemory:
		return common.NewMemoryStore(), func() {}, nil
	case config.StoreRedis:
		client, err := common.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		prefix := cfg.RedisPrefix
		if prefix == "" {
			prefix = common.DefaultRedisPrefix
		}
		return common.NewRedisStore(client, prefix), func() { _ = client.Close() }, nil
	default:
		return common.NewFileStore(cfg.TokenFile, cfg.TokenPassphrase), func() {}, nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printMetrics(ctx context.Context) {
	points, err := a.recorder.Snapshot(ctx)
	if err != nil {
		a.logger.Error("collecting metrics failed", "error", err)
		return
	}
	for _, p := range points {
		fmt.Fprintf(a.stderr, "%s{%s} %d\n", p.Name, p.Attributes, p.Value)
	}
}
