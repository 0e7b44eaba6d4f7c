// Command server runs the hallchat server: a multi-room chat reachable over
// a newline delimited TCP protocol and over WebSocket, with an operator
// console on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Tyrowin/hallchat/internal/chat"
	"github.com/Tyrowin/hallchat/internal/commands"
	"github.com/Tyrowin/hallchat/internal/plugins"
	"github.com/Tyrowin/hallchat/internal/server"
	"github.com/Tyrowin/hallchat/internal/topchatter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		port       string
		httpAddr   string
		pluginDir  string
		console    bool
		topChatter bool
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("hallchat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML configuration file")
	flagSet.StringVar(&port, "port", "", "TCP listen address or port for the line protocol")
	flagSet.StringVar(&httpAddr, "http", "", "HTTP listen address for WebSocket and health; empty disables")
	flagSet.StringVar(&pluginDir, "plugins", "", "directory of YAML plugin command files")
	flagSet.BoolVar(&console, "console", false, "attach the stdin console even when stdin is not a terminal")
	flagSet.BoolVar(&topChatter, "topchatter", true, "run the TopChatter bot")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if flagSet.Changed("port") {
		cfg.ListenAddr = port
	}
	if flagSet.Changed("http") {
		cfg.HTTPAddr = httpAddr
	}
	if flagSet.Changed("plugins") {
		cfg.PluginDir = pluginDir
	}
	if flagSet.Changed("console") {
		cfg.Console = console
	}
	if flagSet.Changed("topchatter") {
		cfg.TopChatter = topChatter
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	cfg, err = cfg.Normalize()
	if err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builtin := commands.Builtin(commands.Options{MaxNonAdminSchedule: cfg.MaxNonAdminSchedule})
	loadRegistry := func() *chat.Registry {
		return plugins.Registry(builtin, cfg.PluginDir, logger.With(slog.String("component", "plugins")))
	}
	hub := server.NewHub(cfg, loadRegistry(), logger)
	if cfg.TopChatter {
		bot := topchatter.New(topchatter.DefaultName, cfg.PingTimeout/3, logger)
		hub.Observe(bot)
		if _, err := hub.AttachBot(bot); err != nil {
			return fmt.Errorf("attach %s: %w", bot.Name(), err)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return server.ServeTCP(ctx, ln, hub) })
	if cfg.HTTPAddr != "" {
		origins := server.NewOriginPolicy(cfg.AllowedOrigins, logger)
		srv := server.CreateServer(cfg.HTTPAddr, server.SetupRoutes(hub, origins))
		g.Go(func() error { return server.ServeHTTP(ctx, srv, logger) })
	}
	g.Go(func() error {
		return plugins.Watch(ctx, cfg.PluginDir, logger.With(slog.String("component", "plugins")), func() {
			hub.SetCommands(loadRegistry())
		})
	})
	if cfg.Console || term.IsTerminal(int(os.Stdin.Fd())) {
		hub.AttachConsole(server.NewConsoleTransport(os.Stdin, os.Stdout))
		logger.Info("console attached", slog.String("user", chat.ConsoleUsername))
	}

	err = g.Wait()
	if shutdownErr := hub.Shutdown(5 * time.Second); shutdownErr != nil {
		logger.Warn("hub shutdown incomplete", slog.Any("error", shutdownErr))
	}
	if errors.Is(err, server.ErrStopRequested) {
		logger.Info("server stopped by admin")
		return nil
	}
	return err
}
