// Command gridctl operates a running grid trading bot through the Redis
// command relay and prepares its configuration and secrets.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/auth"
	"grid-trading-bot/internal/logging"
	"grid-trading-bot/internal/vault"
)

var (
	logLevel string
	cfg      *config.Config
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "gridctl",
	Short:         "Operate the grid trading bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New(&logging.Config{Level: logLevel, Output: "stderr", Component: "gridctl"})
		if cmd.Annotations["config"] == "none" {
			return nil
		}
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var sampleCmd = &cobra.Command{
	Use:         "sample [file]",
	Short:       "Write a sample config.json",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"config": "none"},
	RunE: func(cmd *cobra.Command, args []string) error {
		file := "config.json"
		if len(args) == 1 {
			file = args[0]
		}
		if err := config.GenerateSampleConfig(file); err != nil {
			return err
		}
		fmt.Println("Sample configuration written to", file)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:         "hash-password [password]",
	Short:       "Print the bcrypt hash for auth.password_hash",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"config": "none"},
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := argOrStdin(args)
		if err != nil {
			return err
		}
		hash, err := auth.NewPasswordManager(auth.DefaultBcryptCost).HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

var (
	vaultAPIKey    string
	vaultSecretKey string
	vaultTestnet   bool
)

var vaultCmd = &cobra.Command{
	Use:   "vault-put",
	Short: "Store the exchange credentials in Vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return err
		}
		creds := vault.Credentials{APIKey: vaultAPIKey, SecretKey: vaultSecretKey, Testnet: vaultTestnet}
		if err := client.StoreExchangeCredentials(cmd.Context(), creds); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.VaultConfig.MountPath+"/"+cfg.VaultConfig.SecretPath).Msg("Exchange credentials stored")
		return nil
	},
}

func argOrStdin(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "log level")

	vaultCmd.Flags().StringVar(&vaultAPIKey, "api-key", "", "binance api key")
	vaultCmd.Flags().StringVar(&vaultSecretKey, "secret-key", "", "binance secret key")
	vaultCmd.Flags().BoolVar(&vaultTestnet, "testnet", false, "keys belong to the spot testnet")
	_ = vaultCmd.MarkFlagRequired("api-key")
	_ = vaultCmd.MarkFlagRequired("secret-key")

	configCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(configCmd, hashPasswordCmd, vaultCmd, sendCmd, watchCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errCommandFailed) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
