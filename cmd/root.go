package cmd

import (
	"errors"
	"log"

	"github.com/subletscout/sublet-scout/internal/ai"
	"github.com/subletscout/sublet-scout/internal/gmail"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "sublet-scout"

	defaultLedgerFile = "data/decisions.json"
)

type Config struct {
	Listing    *ai.Listing         `mapstructure:"listing" validate:"required"`
	Search     *gmail.SearchParams `mapstructure:"search"`
	LedgerFile string              `mapstructure:"ledger-file"`
	TokenFile  string              `mapstructure:"token-file"`
	UserAgent  string              `mapstructure:"user-agent"`
	AI         *AIConfig           `mapstructure:"ai" validate:"required"`
	Selection  *SelectionConfig    `mapstructure:"selection" validate:"required"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength int    `mapstructure:"max-log-length" validate:"gte=0"`
}

type SelectionConfig struct {
	// TotalExpected is the known applicant count for the run; 0 means
	// unknown, which requires WindowSize.
	TotalExpected int `mapstructure:"total-expected" validate:"gte=0"`
	// ObservationFraction defaults to 1/e when left at zero.
	ObservationFraction float64 `mapstructure:"observation-fraction" validate:"gte=0,lt=1"`
	WindowSize          int     `mapstructure:"window-size" validate:"gte=0"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "sublet-scout scores rental applications from your inbox with Gemini and picks one with the secretary strategy",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("token-file", "GMAIL_TOKEN_FILE"); err != nil {
		log.Fatalf("binding GMAIL_TOKEN_FILE environment variable: %v", err)
	}

	if err := viper.BindEnv("ai.gemini.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	viper.SetDefault("ledger-file", defaultLedgerFile)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is sublet-scout.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Same convention as the original tooling: secrets may live in a .env
	// file next to the config.
	_ = godotenv.Load()

	// Version needs no config at all.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error. Commands that
	// only touch the ledger can live without a config file at all.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && runCmd.CalledAs() == "" {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}

	if config == nil {
		return nil, nil
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, err
	}

	return config, nil
}
