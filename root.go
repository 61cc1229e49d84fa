package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/techcodex/codexcloud/internal/authflow"
	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/config"
	"github.com/techcodex/codexcloud/internal/credstore"
	"github.com/techcodex/codexcloud/internal/index"
	"github.com/techcodex/codexcloud/internal/logsink"
	"github.com/techcodex/codexcloud/internal/provider/gdrive"
	"github.com/techcodex/codexcloud/internal/provider/github"
	"github.com/techcodex/codexcloud/internal/provider/onedrive"
	"github.com/techcodex/codexcloud/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProvider   string
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout prevents hung connections from blocking CLI
// commands indefinitely.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "codexcloud",
		Short:   "Cloud storage companion for the Tech Codex",
		Long:    "Sign in to GitHub, Google Drive, and OneDrive, browse remote files, and transfer them.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVarP(&flagProvider, "provider", "p", "", "provider: github, gdrive, or onedrive")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRepoCmd())
	cmd.AddCommand(newLogCmd())

	return cmd
}

// buildLogger creates an slog.Logger: human-readable text on a
// terminal, JSON when output is piped. Config log level is the
// baseline; --verbose and --quiet override it.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// app bundles the wired-up pieces every command needs: configuration,
// the credential store, the journal, and the auth controller.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	sink      *logsink.SQLiteSink
	store     *credstore.Store
	ctrl      *authflow.Controller
	refresher *authflow.Refresher
}

func newApp(ctx context.Context) (*app, error) {
	path := flagConfigPath

	if path == "" {
		var err error

		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}

	sink, err := logsink.OpenSQLite(ctx, filepath.Join(dataDir, "journal.db"), logger)
	if err != nil {
		return nil, err
	}

	store, err := credstore.Open(dataDir, nil, sink, logger)
	if err != nil {
		sink.Close()
		return nil, err
	}

	ctrl := authflow.NewController(store, cfg, openBrowser, sink, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		sink:      sink,
		store:     store,
		ctrl:      ctrl,
		refresher: ctrl.NewRefresher(),
	}, nil
}

func (a *app) Close() {
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("closing journal", slog.String("error", err.Error()))
	}
}

// provider constructs the API client for the selected provider, backed
// by the refresher's token source.
func (a *app) provider(ctx context.Context, name cloud.Name) (cloud.Provider, error) {
	token := a.refresher.Source(name)

	switch name {
	case cloud.GitHub:
		return github.New("", defaultHTTPClient(), token, a.sink, a.logger), nil
	case cloud.GDrive:
		return gdrive.New(ctx, token, a.sink, a.logger)
	case cloud.OneDrive:
		return onedrive.New("", defaultHTTPClient(), token, a.sink, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// refreshFunc is the recovery hook for a mid-operation token
// rejection.
func (a *app) refreshFunc(name cloud.Name) func(context.Context) error {
	return func(ctx context.Context) error {
		return a.refresher.ForceRefresh(ctx, name)
	}
}

func (a *app) index(ctx context.Context, name cloud.Name) (*index.Index, error) {
	p, err := a.provider(ctx, name)
	if err != nil {
		return nil, err
	}

	return index.New(p, a.refreshFunc(name), a.logger), nil
}

func (a *app) engine(ctx context.Context, name cloud.Name) (*transfer.Engine, error) {
	p, err := a.provider(ctx, name)
	if err != nil {
		return nil, err
	}

	return transfer.NewEngine(p, a.cfg.DownloadRoot, a.refreshFunc(name), a.sink, a.logger), nil
}

// selectedProvider resolves the --provider flag.
func selectedProvider() (cloud.Name, error) {
	if flagProvider == "" {
		return "", fmt.Errorf("--provider is required (github, gdrive, or onedrive)")
	}

	return cloud.ParseName(flagProvider)
}

// openBrowser opens the URL in the system default browser.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// withApp wires up the app for a command and tears it down after.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a, cmd, args)
	}
}
