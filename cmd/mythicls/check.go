package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/0tickpulse/mythicls/internal/lsp"
)

func newCheckCmd() *cobra.Command {
	var settle time.Duration
	var watch bool

	cmd := &cobra.Command{
		Use:   "check [files...]",
		Short: "Lint MythicYAML files and print server diagnostics",
		Long: `check opens the given files against the language server, waits for it
to publish diagnostics and prints them. With no arguments every matching
YAML file under the workspace is checked.

With --watch, check keeps the session alive and re-lints files as they
change on disk; edits to mythicls.toml update the trace level live.

The exit status is 1 when any error-severity diagnostic was reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args, settle, watch)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 3*time.Second, "how long to wait for diagnostics after the last publish")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-lint files as they change")
	return cmd
}

func runCheck(args []string, settle time.Duration, watch bool) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	root, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}

	selector := lsp.NewSelectorAt(root, cfg.Selector.Patterns...)
	files, err := collectFiles(root, args, selector)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Info().Msg("no MythicYAML files to check")
		return nil
	}

	traceLevel, err := lsp.ParseTraceLevel(cfg.Trace)
	if err != nil {
		return err
	}

	published := make(chan struct{}, 64)
	session := lsp.NewSession(lsp.SessionConfig{
		Channel: lsp.ChannelConfig{
			Command:     cfg.Server.Command,
			Args:        cfg.Server.Args,
			Env:         cfg.Server.Env,
			Dir:         cfg.Server.Dir,
			TCPAddr:     cfg.Server.TCPAddr,
			SocketPath:  cfg.Server.SocketPath,
			DialTimeout: cfg.Server.DialTimeoutDuration(),
		},
		WorkspaceRoot:     root,
		Settings:          cfg.Settings,
		InitializeTimeout: cfg.Server.InitializeTimeoutDuration(),
		ShutdownTimeout:   cfg.Server.ShutdownTimeoutDuration(),
	},
		lsp.WithLogger(logger),
		lsp.WithTraceLevel(traceLevel),
		lsp.WithDiagnosticsHandler(func(protocol.PublishDiagnosticsParams) {
			select {
			case published <- struct{}{}:
			default:
			}
		}),
	)
	bridge := lsp.NewBridge(session, selector)
	sup := lsp.NewSupervisor(session, lsp.DefaultSupervisorConfig(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting language server: %w", err)
	}
	defer sup.Stop(context.Background())

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := bridge.DidOpen(path, string(data)); err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
	}

	waitForDiagnostics(ctx, published, settle)

	errorCount := printDiagnostics(root, files, session)

	if watch {
		return watchLoop(ctx, logger, cfgPath, root, files, session, bridge, settle)
	}
	if errorCount > 0 {
		return fmt.Errorf("%d error(s) reported", errorCount)
	}
	return nil
}

// collectFiles resolves the check targets: explicit arguments, or a
// workspace walk filtered through the selector.
func collectFiles(root string, args []string, selector *lsp.Selector) ([]string, error) {
	if len(args) > 0 {
		files := make([]string, 0, len(args))
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return nil, err
			}
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("checking %s: %w", arg, err)
			}
			files = append(files, path)
		}
		return files, nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == ".git" || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if selector.Matches(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// waitForDiagnostics blocks until the publish stream stays quiet for the
// settle window. Servers publish per-document with no end marker, so quiet
// is the only completion signal available.
func waitForDiagnostics(ctx context.Context, published <-chan struct{}, settle time.Duration) {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-published:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settle)
		case <-timer.C:
			return
		}
	}
}

func printDiagnostics(root string, files []string, session *lsp.Session) int {
	errorCount := 0
	for _, path := range files {
		diags := session.Diagnostics(uri.File(path))
		if len(diags) == 0 {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		for _, d := range diags {
			severity := "info"
			switch d.Severity {
			case protocol.DiagnosticSeverityError:
				severity = "error"
				errorCount++
			case protocol.DiagnosticSeverityWarning:
				severity = "warning"
			case protocol.DiagnosticSeverityHint:
				severity = "hint"
			}
			fmt.Printf("%s:%d:%d: %s: %s\n", rel, d.Range.Start.Line+1, d.Range.Start.Character+1, severity, d.Message)
		}
	}
	return errorCount
}
