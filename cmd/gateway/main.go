// BSV payment gateway - a reverse proxy that protects any backend with HTTP 402
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "HTTP 402 payment gateway settled in BSV",
	Long: `gateway puts a BSV payment gate in front of any HTTP backend.

Unpaid requests receive a 402 challenge; requests carrying a valid payment
proof in the x-bsv-payment header are proxied to the backend.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, decodeCmd, challengeCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
