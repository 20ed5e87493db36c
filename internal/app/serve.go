package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/modsync/internal/daemon"
	"github.com/blackwell-systems/modsync/internal/ipc"
	"github.com/blackwell-systems/modsync/internal/manager"
	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/output"
	"github.com/blackwell-systems/modsync/internal/watcher"
)

var (
	serveDaemon      bool
	serveDaemonChild bool
	servePIDFile     string
	serveLogFile     string
	serveStop        bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the primary instance",
		Long: `Run the primary instance: bind the IPC socket, download archives for
received tokens, resolve their metadata and apply activation commands.

Serve modes:
  • Foreground (default): Run in the current terminal with Ctrl+C to stop
  • Daemon: Run as a background process with a PID file
  • Stop: Stop a running daemon

On start the last received token is resubmitted once, so a download interrupted
by a shutdown is retried.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  modsync serve

  # Run as background daemon
  modsync serve --daemon

  # Stop running daemon
  modsync serve --stop

  # Use custom PID and log files
  modsync serve --daemon --pid-file /tmp/modsync.pid --log-file /tmp/modsync.log`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "run as background daemon")
	serveCmd.Flags().BoolVar(&serveDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "PID file path (default: ~/.modsync/serve.pid)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "log file path (default: ~/.modsync/serve.log)")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "stop running daemon")

	serveCmd.Flags().MarkHidden("daemon-child")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePIDFile == "" {
		defaultPID, err := getDefaultPIDFile()
		if err != nil {
			return fmt.Errorf("failed to get default PID file path: %w", err)
		}
		servePIDFile = defaultPID
	}
	if serveLogFile == "" {
		defaultLog, err := getDefaultLogFile()
		if err != nil {
			return fmt.Errorf("failed to get default log file path: %w", err)
		}
		serveLogFile = defaultLog
	}

	switch {
	case serveStop:
		return stopServeDaemon()
	case serveDaemon:
		return startServeDaemon()
	case serveDaemonChild:
		defer daemon.RemovePID(servePIDFile)
		return serve(cmd.Context(), "")
	}

	fmt.Println("Starting modsync (press Ctrl+C to stop)...")
	return serve(cmd.Context(), "")
}

func stopServeDaemon() error {
	running, err := daemon.IsRunning(servePIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon...")
	spinner.Start()
	if err := daemon.Stop(servePIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")
	return nil
}

func startServeDaemon() error {
	args := []string{"serve", "--pid-file", servePIDFile, "--log-file", serveLogFile}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	if socketPath != "" {
		args = append(args, "--socket", socketPath)
	}

	pid, err := daemon.Start(args, servePIDFile, serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("✓ Daemon started (PID %d)\n", pid)
	fmt.Printf("  PID file: %s\n", servePIDFile)
	fmt.Printf("  Log file: %s\n", serveLogFile)
	fmt.Printf("\nTo stop: modsync serve --stop\n")
	return nil
}

// serve runs the primary instance until SIGINT/SIGTERM. A non-empty token is
// handled first; otherwise the last persisted token is resumed.
func serve(parent context.Context, token string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	log := env.log

	ln, err := ipc.Listen(env.cfg.Socket, log)
	if err != nil {
		if errors.Is(err, ipc.ErrInstanceRunning) {
			return fmt.Errorf("another instance is already running on %s", env.cfg.Socket)
		}
		return err
	}
	defer ln.Close()

	w, err := watcher.New(env.cfg.DownloadDir, log)
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	var onProgress func(mods.Download)
	if !serveDaemonChild {
		onProgress = progressBars{}.update
	}

	svc := env.services()
	m, err := env.newManager(svc, w.Events(), onProgress)
	if err != nil {
		return err
	}

	ctx, cancel := daemon.SignalContext(parent)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- m.Run(ctx) }()

	if err := env.cfg.RequireAPIKey(); err != nil {
		log.Warn("downloads are held until a key is set", slog.Any("error", err))
	}
	if err := env.cfg.RequireGameDir(); err != nil {
		log.Warn("activation is unavailable", slog.Any("error", err))
	}

	if token != "" {
		m.HandleToken(ctx, token)
	} else if err := m.Resume(ctx); err != nil && !errors.Is(err, manager.ErrNoAPIKey) {
		log.Warn("resume failed", slog.Any("error", err))
	}

	log.Info("listening", slog.String("socket", ln.Addr()), slog.String("download_dir", env.cfg.DownloadDir), slog.Int("pid", os.Getpid()))
	serveErr := ln.Serve(ctx, m.HandleToken)

	cancel()
	loopErr := <-loopDone
	svc.engine.Wait()
	log.Info("shutdown complete")

	if !serveDaemonChild {
		if _, downloads, err := m.Snapshot(context.Background()); err == nil && len(downloads) > 0 {
			fmt.Print("\nDownloads this session:\n" + output.RenderDownloads(downloads))
		}
	}

	return errors.Join(serveErr, loopErr)
}
