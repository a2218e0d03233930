package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/scembed/scembed/pkg/models"
)

// NewFetchCommand returns a new fetch command.
func NewFetchCommand() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "fetch <model>",
		Short: "Download and unpack a pretrained model",
		Long: `
Resolves a pretrained model reference (a published model name, an archive, or
a directory) into a ready-to-use model directory.
	`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			dir, err := models.Resolve(args[0], dest)
			if err != nil {
				return err
			}
			log.Info("model ready", "dir", dir)
			fmt.Println(dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", "models", "directory to download and unpack into")
	return cmd
}
