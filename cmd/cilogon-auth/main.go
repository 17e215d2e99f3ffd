// Command cilogon-auth sirve el login OIDC contra CILogon y administra los
// vínculos de cuentas desde la línea de comandos.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"

	// Registra los drivers de store vía init().
	_ "github.com/dropDatabas3/cilogonauth/internal/store/adapters/dal"
)

var version = "dev"

var configPath string

func main() {
	// .env es opcional.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "cilogon-auth",
		Short:         "CILogon / OIDC login service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultCfg := os.Getenv("CILOGON_CONFIG")
	if defaultCfg == "" {
		defaultCfg = "config.yaml"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultCfg, "path to the YAML config")

	root.AddCommand(serveCmd(), migrateCmd(), linksCmd())

	err := root.Execute()
	_ = logger.Sync()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig carga la config e inicializa el logger de proceso.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "cilogon-auth",
		Version:     version,
	})
	return cfg, nil
}
