package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "patchstorm",
		Short: "Patchstorm - distributed mutation pipeline",
		Long: `Patchstorm fans a declarative task definition out across many
repositories. Each target repository becomes one job: a coding agent is run
against a fresh clone, and if it changed anything the change is pushed and
a pull request opened or updated.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
