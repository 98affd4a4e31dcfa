package cmd

import (
	"context"

	"github.com/michaelpento.lv/flashjit/utils"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flashjit",
	Short: "Flash-loan execution engine for JIT liquidity and arbitrage",
	Long: `flashjit wires loan providers, liquidity pools, and the execution
engine into one atomic substrate. Every operation borrows, executes, and
repays within a single invocation; failed invocations leave no state behind.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./flashjit.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
