package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Verify block chain integrity and print the report",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		a, err := buildApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.redis.Close()

		report, err := a.chain.VerifyChain(context.Background())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if !report.Valid {
			os.Exit(1)
		}
		return nil
	},
}
