package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tickwise/presenced/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the presenced configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stdout, "   ledger backend: %s\n", cfg.Ledger.Backend)
	green.Fprintf(os.Stdout, "   flush interval: %s\n", cfg.Tracker.FlushInterval)
	green.Fprintf(os.Stdout, "   daily report:   %s (%s)\n", cfg.Report.Time, cfg.Report.Timezone)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	return nil
}

func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// Get all keys from the config file
	allKeys := v.AllKeys()

	// Build set of valid keys
	validKeys := getValidKeys()

	// Find unknown keys
	unknown := []string{}
	for _, key := range allKeys {
		if validKeys[key] {
			continue
		}
		// directory.users.* entries carry arbitrary user IDs
		if strings.HasPrefix(key, "directory.users.") {
			continue
		}
		unknown = append(unknown, key)
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.metrics_port": true,
		"server.bind_address": true,

		// Ledger
		"ledger.backend":        true,
		"ledger.retry_attempts": true,
		"ledger.retry_delay":    true,

		// Redis
		"redis.host":           true,
		"redis.port":           true,
		"redis.password":       true,
		"redis.db":             true,
		"redis.pool_size":      true,
		"redis.min_idle_conns": true,
		"redis.dial_timeout":   true,
		"redis.read_timeout":   true,
		"redis.write_timeout":  true,

		// Sheets
		"sheets.spreadsheet_id":   true,
		"sheets.worksheet":        true,
		"sheets.credentials_file": true,

		// Tracker
		"tracker.flush_interval": true,

		// Source
		"source.channel": true,

		// Report
		"report.time":     true,
		"report.timezone": true,
		"report.sink":     true,
		"report.channel":  true,

		// Directory
		"directory.users":          true,
		"directory.fallback_to_id": true,
		"directory.cache_size":     true,
		"directory.cache_ttl":      true,

		// Logging
		"logging.level":  true,
		"logging.format": true,
	}
}
