package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tripc-agent/handler"
	"tripc-agent/internal/config"
	"tripc-agent/internal/logger"
)

const shutdownTimeout = 10 * time.Second

var (
	envFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "tripc-agent",
	Short: "TripC travel assistant chat pipeline",
	Long: `tripc-agent answers travel questions, searches the TripC catalog and
collects booking details. It runs as an AWS Lambda behind API Gateway by
default, or as a plain HTTP server with the serve command.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), "")
	},
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve API Gateway proxy events through the Lambda runtime",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), config.ModeLambda)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API directly",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), config.ModeServe)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file when it exists")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json|text)")
	serveCmd.Flags().String("addr", "", "Listen address for serve mode")

	if err := v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-level flag: %v\n", err)
		os.Exit(1)
	}
	if err := v.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-format flag: %v\n", err)
		os.Exit(1)
	}
	if err := v.BindPFlag("addr", serveCmd.Flags().Lookup("addr")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding addr flag: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context, mode string) error {
	// ---- Configuration (read only here) ----
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if mode != "" {
		v.Set("mode", mode)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logger.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	// ---- Components ----
	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build application", "err", err)
		return err
	}
	defer a.close()

	a.start(ctx)

	switch cfg.Mode {
	case config.ModeServe:
		return serve(ctx, cfg.Addr, handler.NewHTTPHandler(a.handler, log), log)
	default:
		log.Info("starting lambda runtime")
		lambda.StartWithOptions(a.handler.Handle, lambda.WithContext(ctx))
		return nil
	}
}

func serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
