package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"brandline/internal/app"
	"brandline/internal/config"
	"brandline/internal/db"
	"brandline/internal/domain"
	"brandline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Brandline CLI",
	Long: `Brandline moves trademark registration jobs from intake to a lawyer's certificate.
- Workspace: the .brandline directory holding the SQLite database and stored files.
- Jobs: one client case; statuses go new -> in-progress -> brand-in-review -> documents-pending
  -> documents-submitted -> to-lawyer -> lawyer-processing -> lawyer-completed.
- Roles: operators own intake and documents, checkers review brand and documents, lawyers
  complete registration, admins see and archive everything.
- Every command acts as --actor with --role; the HTTP API takes identity from tokens instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	// Values already in the environment win over .env.
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("BRANDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor", "local-admin", "acting user id")
	flags.String("role", string(domain.RoleAdmin), "acting role (operator, checker, lawyer, admin)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor", "role", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(reportCmd())
}

// overrides maps viper keys (flags and BRANDLINE_* env) onto config fields.
// They apply on top of brandline.yml.
var overrides = []struct {
	key   string
	apply func(*config.Config)
}{
	{"addr", func(c *config.Config) { c.Server.Addr = viper.GetString("addr") }},
	{"base-path", func(c *config.Config) { c.Server.BasePath = viper.GetString("base-path") }},
	{"jwt-secret", func(c *config.Config) { c.Auth.JWTSecret = viper.GetString("jwt-secret") }},
	{"trusted-headers", func(c *config.Config) { c.Auth.TrustedHeaders = viper.GetBool("trusted-headers") }},
	{"assignment-policy", func(c *config.Config) { c.Assignment.Policy = viper.GetString("assignment-policy") }},
	{"allow-force-status", func(c *config.Config) { c.Admin.AllowForceStatus = viper.GetBool("allow-force-status") }},
	{"files-dir", func(c *config.Config) { c.Files.Dir = viper.GetString("files-dir") }},
	{"telegram-token", func(c *config.Config) { c.Notify.Telegram.Token = viper.GetString("telegram-token") }},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if viper.IsSet(o.key) {
			o.apply(cfg)
		}
	}
	return cfg, cfg.Validate()
}

func newLogger(structured bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if structured {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Config:    cfg,
		Logger:    newLogger(false),
	})
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, rt), rt.Close())
}

func currentActor() (domain.Actor, error) {
	role, err := domain.ParseRole(viper.GetString("role"))
	if err != nil {
		return domain.Actor{}, err
	}
	id := strings.TrimSpace(viper.GetString("actor"))
	if id == "" {
		return domain.Actor{}, fmt.Errorf("--actor required")
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(true)
			slog.SetDefault(logger)
			rt, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				Config:    cfg,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			if cfg.Auth.JWTSecret == "" {
				logger.Warn("no jwt secret configured; bearer tokens are rejected")
			}
			if cfg.Auth.TrustedHeaders {
				logger.Warn("trusted identity headers enabled; run behind an authenticating gateway")
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: cfg.Server.BasePath,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret:      cfg.Auth.JWTSecret,
					TrustedHeaders: cfg.Auth.TrustedHeaders,
					CacheSize:      cfg.Auth.APIKeyCache.Size,
					CacheTTL:       time.Duration(cfg.Auth.APIKeyCache.TTLSeconds) * time.Second,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "docs", "/docs", "metrics", "/metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("base-path", "", "API base path (default from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("trusted-headers", false, "accept X-Actor-Id/X-Actor-Role")
	cmd.Flags().Bool("allow-force-status", false, "enable the admin force-status override")
	cmd.Flags().String("assignment-policy", "", "least_loaded or round_robin")
	for _, name := range []string{"addr", "base-path", "jwt-secret", "trusted-headers", "allow-force-status", "assignment-policy"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage brandline.yml",
		Long:  "Config lives in brandline.yml at the workspace root. BRANDLINE_* environment variables and flags override it.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default brandline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
