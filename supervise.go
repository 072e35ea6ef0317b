package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fastdl4u/fastdl/logger"
	"github.com/fastdl4u/fastdl/server"
)

const (
	DefaultSupervisorPort = 8080
	RestartDelay          = 5 * time.Second
)

// Supervisor keeps one child process alive, restarting it RestartDelay
// after every exit until the context ends.
type Supervisor struct {
	// Command returns a fresh child for every start.
	Command func() *exec.Cmd
	Delay   time.Duration

	starts int
}

func (s *Supervisor) Run(ctx context.Context) error {
	for {
		cmd := s.Command()
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return err
		}
		s.starts++
		log.Info().Int("pid", cmd.Process.Pid).Int("start", s.starts).Msg("bot started")

		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()

		select {
		case err := <-exited:
			log.Warn().Err(err).Dur("restart_in", s.Delay).Msg("bot exited")
		case <-ctx.Done():
			// Let the bot drain its queues.
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				log.Warn().Err(err).Msg("signal failed")
			}
			err := <-exited
			log.Info().Err(err).Msg("bot stopped")
			return nil
		}

		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// Starts is how many times the child was launched.
func (s *Supervisor) Starts() int {
	return s.starts
}

func newSuperviseCommand(envFile *string) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "run the bot in a child process and restart it when it dies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return supervise(*envFile, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", DefaultSupervisorPort, "liveness port, 0 disables it")
	return cmd
}

func supervise(envFile string, port int) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if os.Getenv("BOT_TOKEN") == "" {
		return errors.New("BOT_TOKEN is not set")
	}
	logFile := os.Getenv("SUPERVISOR_LOG")
	if logFile == "" {
		logFile = "bot_monitor.log"
	}
	logger.Init(os.Getenv("APP_ENV"), &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})

	self, err := os.Executable()
	if err != nil {
		return err
	}

	if port > 0 {
		srv := server.New(port, server.Routes(server.Options{Status: server.Running}))
		go func() {
			log.Info().Int("port", port).Msg("liveness server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("liveness server failed")
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &Supervisor{
		Command: func() *exec.Cmd { return exec.Command(self, "--env", envFile, "run") },
		Delay:   RestartDelay,
	}
	log.Info().Str("log", logFile).Msg("supervisor running")
	return s.Run(ctx)
}
