// File: cmd/glucodata/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/connection"
	"github.com/smartdevs17/glucodata-handler/internal/storage"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "glucodata",
	Short:   "GlucoData Handler",
	Long:    `Receives glucose broadcasts, raises alarm notifications and relays the data to paired wearables.`,
	Version: AppVersion,
	RunE:    runHandler,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runHandler is the main command to run the service
func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("GlucoData Handler %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := storage.ValidateStorageConfig(&cfg.Storage); err != nil {
			return fmt.Errorf("storage configuration invalid: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Broadcast action: %s\n", cfg.Receiver.Action)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Thresholds: %.0f / %.0f / %.0f / %.0f mg/dL\n",
			cfg.Alarm.VeryLow, cfg.Alarm.Low, cfg.Alarm.High, cfg.Alarm.VeryHigh)
		fmt.Printf("Relay: enabled=%t nats=%t websocket=%t\n",
			cfg.Relay.Enabled, cfg.Relay.EnableNATS, cfg.Relay.EnableSocket)

		return nil
	},
}

// showConfigCmd prints the effective configuration
var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

// alarmCmd groups alarm commands
var alarmCmd = &cobra.Command{
	Use:   "alarm",
	Short: "Alarm notification commands",
}

var alarmMappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Print the alarm notification mapping",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-10s %-4s %-28s %-22s %s\n", "TYPE", "ID", "CHANNEL", "SOUND", "BYPASS_DND")
		for _, t := range alarm.MappedTypes() {
			m, _ := alarm.Resolve(t)
			fmt.Fprintf(out, "%-10s %-4d %-28s %-22s %t\n", t, m.NotificationID, m.ChannelID, m.SoundResource, m.BypassDnd)
		}
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Testing GlucoData Handler connectivity...")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("storage ping failed: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		if cfg.NATS.URL != "" {
			fmt.Printf("Testing NATS connection to %s...\n", cfg.NATS.URL)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			cm := connection.NewConnectionManager(cfg.NATS, nil)
			if _, err := cm.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer cm.Close()
			if err := cm.HealthCheck(); err != nil {
				return fmt.Errorf("NATS health check failed: %w", err)
			}
			fmt.Println("✓ NATS connection successful")
		}

		if cfg.Webhook.Enabled {
			fmt.Printf("Webhook target: %s\n", cfg.Webhook.URL)
		}

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(alarmCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
	configCmd.AddCommand(showConfigCmd)
	alarmCmd.AddCommand(alarmMappingCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
