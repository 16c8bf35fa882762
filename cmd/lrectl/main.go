package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/liminal-foundation/lre-core/internal/logger"
	"github.com/liminal-foundation/lre-core/internal/store"
)

var (
	storeFlag   string
	verboseFlag bool
	rootCmd     = &cobra.Command{
		Use:   "lrectl",
		Short: "Admin CLI for the runtime event store and user accounts",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&storeFlag, "store", "s", "data/lre.db", "Path to the store database")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliLogger is quiet unless --verbose is set; command output goes to
// stdout, log lines are diagnostics only.
func cliLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verboseFlag {
		level = zerolog.DebugLevel
	}
	return logger.NewWithLevel("lrectl", level)
}

func openStore() (*store.Store, error) {
	return store.Open(storeFlag, cliLogger())
}
