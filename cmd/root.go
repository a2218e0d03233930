// Package cmd contains the commands for the scembed CLI.
package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scembed",
	Short: "Fine-tune a pretrained gene expression model and embed cells",
	Long: `
Fine-tunes a pretrained transformer gene expression model on an annotated
single-cell count matrix and writes out per-cell embeddings.
	`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil {
			log.Debug("no .env file loaded", "err", err)
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(NewFinetuneCommand())
	rootCmd.AddCommand(NewFetchCommand())
}
