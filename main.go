package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plan_store/internal/auth"
	"plan_store/internal/config"
	"plan_store/internal/consistenthash"
	"plan_store/internal/health"
	"plan_store/internal/kvstore"
	"plan_store/internal/logger"
	"plan_store/internal/plan"
	"plan_store/internal/schema"
	"plan_store/internal/server"
)

var (
	settings   = config.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "planstore",
	Short: "Plan document store over a key-value backend",
	Long: `planstore serves nested plan documents over HTTP. Documents are validated
against a JSON Schema, flattened into field maps and sets of a key-value
backend (memory, leveldb, redis or dynamodb) and guarded by ETags.

Examples:
  # Serve against a local Redis
  planstore serve --store.backend redis --store.redis.url redis://localhost:6379/0

  # Check a document against the configured schema
  planstore validate plan.json`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the gRPC health server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a plan document against the configured schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./planstore.yaml or /etc/planstore/planstore.yaml)")
	rootCmd.PersistentFlags().String("schema.path", "", "JSON Schema file overriding the embedded plan schema")
	rootCmd.PersistentFlags().String("log.level", "info", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log.format", "json", "Log format: json|console")

	flags := serveCmd.Flags()
	flags.Int("http.port", 8080, "HTTP port for the plan API")
	flags.Int("grpc.port", 50051, "gRPC port for health checks")
	flags.String("store.backend", kvstore.BackendRedis, "Store backend: memory|leveldb|redis|dynamodb")
	flags.String("store.leveldb.path", "./plan-data", "LevelDB data directory")
	flags.String("store.redis.url", "redis://localhost:6379/0", "Redis connection URL")
	flags.String("store.dynamodb.table", "plans", "DynamoDB table name")
	flags.String("auth.client_id", "", "OAuth client id tokens must be issued for")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cobra.CheckErr(bindFlags(settings, cmd))
	}

	rootCmd.AddCommand(serveCmd, validateCmd)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.LocalNonPersistentFlags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(settings, configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logData, err := logger.New().
		FromPath(cfg.Log.File).
		WithLevel(cfg.Log.Level).
		Console(cfg.Log.Format == "console").
		Make()
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logData.Close()
	log := logData.Logger

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := kvstore.Open(ctx, cfg.KVStore())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	validator, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, auth.GoogleRevalidator{ClientID: cfg.Auth.ClientID})
	if err != nil {
		return err
	}

	locker := consistenthash.NewDefaultRingLocker(cfg.Store.LockStripes)
	plans := plan.NewService(store, validator, locker, cfg.Plan.Type, log.With().Str("component", "plan").Logger())

	gin.SetMode(gin.ReleaseMode)
	restServer := server.NewRestServer(plans, verifier, server.Options{
		Addr:        fmt.Sprintf(":%d", cfg.HTTP.Port),
		Prefix:      cfg.HTTP.Prefix,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, log.With().Str("component", "http").Logger())

	healthServer := health.NewServer(store, cfg.Health.Interval, log.With().Str("component", "health").Logger())
	go healthServer.Watch(ctx)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- healthServer.Serve(grpcListener)
	}()
	go func() {
		errCh <- restServer.Run()
	}()

	log.Info().
		Str("backend", cfg.Store.Backend).
		Int("http_port", cfg.HTTP.Port).
		Int("grpc_port", cfg.GRPC.Port).
		Msg("planstore started")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err = <-errCh:
		log.Error().Err(err).Msg("server stopped unexpectedly")
	}

	cancel()
	healthServer.Stop()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if shutdownErr := restServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("HTTP shutdown")
	}
	return err
}

var errInvalidDocument = errors.New("document violates the schema")

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(settings, configPath)
	if err != nil {
		return err
	}
	validator, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	violations, err := validator.Validate(doc)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(violations); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", args[0], errInvalidDocument)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
