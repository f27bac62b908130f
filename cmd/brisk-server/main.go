package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/brisk-server/brisk/http1"
	"github.com/brisk-server/brisk/internal/logging"
	"github.com/brisk-server/brisk/internal/reactor"
	"github.com/brisk-server/brisk/internal/sigfd"
	"github.com/brisk-server/brisk/server"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to an optional configuration file.
	ConfigPath string
	// Address is the IP the server listens on.
	Address string
	// Port is the TCP port the server listens on.
	Port uint16
	// WorkerCount is the number of workers; zero creates one per
	// available core.
	WorkerCount int64
	// RequestTimeout aborts requests not fully received within the
	// given seconds; zero disables it.
	RequestTimeout int64
	// IdleTimeout closes connections idle for the given seconds; zero
	// disables it.
	IdleTimeout int64
	// EnableTLS makes the server listen with TLS.
	EnableTLS bool
}

var rootCmd = &cobra.Command{
	Use:   "brisk-server",
	Short: "High-throughput HTTP/1.1 server",
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(rawCmd, cmd); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.Address, "address", "a", "", "IP address to listen on (required)")
	rootCmd.Flags().Uint16VarP(&cmd.Port, "port", "p", 0, "Port to listen on (required)")
	rootCmd.Flags().Int64Var(&cmd.WorkerCount, "worker-count", 0, "Number of workers; 0 creates one per available core")
	rootCmd.Flags().Int64Var(&cmd.RequestTimeout, "request-timeout", 0, "Respond with 408 and close if a request is not fully received in <secs>; 0 disables")
	rootCmd.Flags().Int64Var(&cmd.IdleTimeout, "idle-timeout", 0, "Respond with 408 and close if a connection stays idle for <secs>; 0 disables")
	rootCmd.Flags().BoolVar(&cmd.EnableTLS, "enable-tls", false, "Serve TLS using the configured certificate")
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
	rootCmd.MarkFlagRequired("address")
	rootCmd.MarkFlagRequired("port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(rawCmd *cobra.Command, cmd Cmd) error {
	cfg := server.DefaultConfig()
	if cmd.ConfigPath != "" {
		loaded, err := server.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.Address = cmd.Address
	cfg.Port = cmd.Port
	if rawCmd.Flags().Changed("worker-count") {
		cfg.WorkerCount = cmd.WorkerCount
	}
	if rawCmd.Flags().Changed("request-timeout") {
		cfg.RequestTimeoutSecs = cmd.RequestTimeout
	}
	if rawCmd.Flags().Changed("idle-timeout") {
		cfg.IdleTimeoutSecs = cmd.IdleTimeout
	}
	if cmd.EnableTLS {
		cfg.TLS.Enabled = true
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	srv := server.New(log)
	if err := cfg.Apply(srv.Options()); err != nil {
		return err
	}
	if !srv.SetOption(http1.WorkerCount, cfg.WorkerCount) {
		return fmt.Errorf("failed to set worker count: %s", srv.ErrorMessage())
	}
	if !srv.SetOption(http1.RequestTimeoutInSecs, cfg.RequestTimeoutSecs) {
		return fmt.Errorf("failed to set request timeout: %s", srv.ErrorMessage())
	}
	if !srv.SetOption(http1.IdleTimeoutInSecs, cfg.IdleTimeoutSecs) {
		return fmt.Errorf("failed to set idle timeout: %s", srv.ErrorMessage())
	}
	if err := srv.AddRoute(http1.MethodGet, "/hello", func(_ *http1.Request, broker *server.Broker) {
		broker.WriteResponse([]byte("Hello World!"))
	}); err != nil {
		return fmt.Errorf("failed to add /hello route: %w", err)
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("TLS requires cert_file and key_file in the configuration")
		}
		if err := srv.LoadTLSKeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return srv.Run(ctx, cfg.Address, cfg.Port)
	})
	wg.Go(func() error {
		return watchSignals(ctx, cancel, log)
	})

	err = wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchSignals runs a dedicated reactor thread whose only descriptor
// is the process signalfd; SIGTERM and SIGINT stop the server.
func watchSignals(ctx context.Context, cancel context.CancelFunc, log *zap.SugaredLogger) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	listener, err := sigfd.NewListener(unix.SIGTERM, unix.SIGINT)
	if err != nil {
		return err
	}
	defer listener.Close()
	listener.OnSignal = func(signo int) {
		log.Infow("caught signal, stopping server", zap.Int("signal", signo))
		cancel()
	}

	r, err := reactor.New(log)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Register(listener.FD(), &signalHandler{listener: listener}, true, false); err != nil {
		return err
	}
	err = r.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type signalHandler struct {
	listener *sigfd.Listener
}

func (h *signalHandler) OnReadable() { h.listener.Drain() }
func (h *signalHandler) OnWritable() {}
func (h *signalHandler) OnHangup()   {}
