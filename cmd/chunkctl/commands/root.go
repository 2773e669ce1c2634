package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wispfire/chunkstore/internal/logger"
	"github.com/wispfire/chunkstore/pkg/chunkstore"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chunkctl",
	Short: "Inspect and manipulate chunkstore log files",
	Long: `chunkctl is a maintenance tool for chunkstore log files.

It can read, write and delete individual chunks, show occupancy statistics,
trigger compaction, and verify the integrity of a log offline.

The store path can come from the --store flag, the CHUNKCTL_STORE
environment variable, or a chunkctl.yaml config file.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chunkctl.yaml, $HOME/.config/chunkctl/chunkctl.yaml)")
	rootCmd.PersistentFlags().StringP("store", "s", "", "path to the chunkstore log file")
	rootCmd.PersistentFlags().Int("table-size", chunkstore.DefaultTableSize, "index capacity (distinct live keys)")
	rootCmd.PersistentFlags().Float64("threshold", chunkstore.DefaultFragmentationThreshold, "fragmentation ratio that triggers auto-compaction")
	rootCmd.PersistentFlags().String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(verifyCmd)
}

// initConfig layers viper sources under the flags: flags beat environment,
// environment beats config file, config file beats defaults.
func initConfig(cmd *cobra.Command) error {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("chunkctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "chunkctl"))
		}
	}

	v.SetEnvPrefix("CHUNKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	// Propagate config/env values into unset flags so the commands can
	// read everything through the flag set.
	for _, name := range []string{"store", "table-size", "threshold", "log-level", "log-format"} {
		flag := rootCmd.PersistentFlags().Lookup(name)
		if flag != nil && !flag.Changed && v.IsSet(name) {
			_ = flag.Value.Set(v.GetString(name))
		}
	}

	return logger.Init(logger.Config{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
	})
}

// openStore opens the store named by the persistent flags.
func openStore() (*chunkstore.Store, error) {
	path, _ := rootCmd.PersistentFlags().GetString("store")
	if path == "" {
		return nil, fmt.Errorf("no store path given (use --store, CHUNKCTL_STORE, or a config file)")
	}
	tableSize, _ := rootCmd.PersistentFlags().GetInt("table-size")
	threshold, _ := rootCmd.PersistentFlags().GetFloat64("threshold")

	return chunkstore.Open(path,
		chunkstore.WithTableSize(tableSize),
		chunkstore.WithFragmentationThreshold(threshold),
	)
}

// storePath returns the configured store path without opening it.
func storePath() (string, error) {
	path, _ := rootCmd.PersistentFlags().GetString("store")
	if path == "" {
		return "", fmt.Errorf("no store path given (use --store, CHUNKCTL_STORE, or a config file)")
	}
	return path, nil
}

// parseKey parses a chunk key in decimal or 0x-prefixed hex form.
func parseKey(arg string) (uint64, error) {
	key, err := strconv.ParseUint(arg, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk key %q: %w", arg, err)
	}
	if key == 0 {
		return 0, fmt.Errorf("chunk key 0 is reserved")
	}
	return key, nil
}
