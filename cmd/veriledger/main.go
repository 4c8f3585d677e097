package main

import (
	"fmt"
	"os"
	"runtime"

	"veriledger/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "veriledger",
		Short: "Verifiable append-only event ledger",
		Long: "veriledger ingests HMAC-signed events, commits them to hash-linked\n" +
			"blocks and Merkle-rooted rollup batches, and coordinates external\n" +
			"proof generation and anchoring.",
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("veriledger %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(verifyChainCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stdout)
	if cfg.Log.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(level).With().Timestamp().Logger()
}
