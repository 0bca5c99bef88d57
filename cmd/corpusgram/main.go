// Command corpusgram loads article metadata and n-gram frequency files into
// the corpus database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	dbDSN      string
	dbDriver   string
	logLevel   string
	filter     string
)

var rootCmd = &cobra.Command{
	Use:           "corpusgram",
	Short:         "Ingest JATS metadata and n-gram frequencies into a corpus database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&dbDSN, "db", "", "database path or DSN (overrides store.dsn)")
	pf.StringVar(&dbDriver, "driver", "", "database driver: sqlite or postgres (overrides store.driver)")
	pf.StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")
	pf.StringVarP(&filter, "filter", "f", "", "only files whose path contains these space separated substrings, in order")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "corpusgram:", err)
		os.Exit(1)
	}
}
