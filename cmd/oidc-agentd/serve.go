package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/vingar/oidc-agent/internal/agentlog"
	"github.com/vingar/oidc-agent/internal/config"
	"github.com/vingar/oidc-agent/internal/flow"
	"github.com/vingar/oidc-agent/internal/ipcserver"
	"github.com/vingar/oidc-agent/internal/redirect"
	"github.com/vingar/oidc-agent/internal/registry"
	"github.com/vingar/oidc-agent/internal/store"
)

type serveOptions struct {
	configFile string
	socketPath string
	logLevel   string
	logFormat  string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.configFile, "config", "", "path to the daemon's YAML config file")
	flags.StringVar(&options.socketPath, "socket", "", "path of the IPC socket (overrides config and the default location)")
	flags.StringVar(&options.logLevel, "log-level", "", "log level: debug, info, warning, error (overrides config)")
	flags.StringVar(&options.logFormat, "log-format", "", "log format: text, json (overrides config)")

	return cmd
}

func runServe(options serveOptions) error {
	cfg, err := config.Load(options.configFile)
	if err != nil {
		return err
	}
	if options.socketPath != "" {
		cfg.SocketPath = options.socketPath
	}
	if options.logLevel != "" {
		cfg.LogLevel = options.logLevel
	}
	if options.logFormat != "" {
		cfg.LogFormat = options.logFormat
	}

	logger, err := agentlog.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("oidc-agentd: resolve home directory: %w", err)
	}
	oidcDir, err := store.Dir(home)
	if err != nil {
		oidcDir = filepath.Join(home, ".config", "oidc-agent")
		logger.WithField("dir", oidcDir).Info("no existing oidc directory found, creating one")
	}
	st, err := store.New(oidcDir, logger)
	if err != nil {
		return fmt.Errorf("oidc-agentd: %w", err)
	}

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(oidcDir, "oidc-agent.sock")
	}

	reg := registry.New()
	engine := flow.NewEngine(http.DefaultClient, logger)
	redirectMgr := redirect.NewManager(logger)
	srv := ipcserver.New(reg, st, engine, redirectMgr, cfg, logger)

	ln, err := ipcserver.Listen(socketPath)
	if err != nil {
		return fmt.Errorf("oidc-agentd: %w", err)
	}
	defer os.Remove(socketPath)

	fmt.Printf("OIDC_SOCK=%s; export OIDC_SOCK;\n", socketPath)
	fmt.Printf("OIDCD_PID=%d; export OIDCD_PID;\n", os.Getpid())
	logger.WithFields(map[string]interface{}{"socket": socketPath, "dir": oidcDir}).Info("oidc-agentd listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gr run.Group
	gr.Add(func() error {
		return srv.Accept(ctx, ln)
	}, func(err error) {
		cancel()
		ln.Close()
	})
	gr.Add(func() error {
		return srv.Run(ctx)
	}, func(err error) {
		cancel()
	})
	gr.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); !ok {
			return fmt.Errorf("oidc-agentd: %w", err)
		}
		logger.Infof("%v, shutting down", err)
	}
	return nil
}
