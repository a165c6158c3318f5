package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/dealmesh"
	"github.com/hupe1980/dealmesh/config"
)

var extractText string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract cars from a free text listing",
	Long: `Extract runs only the LLM extraction step and prints the cars as YAML,
ready to be edited and passed to "dealmesh analyze --cars".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		text, err := readText(cmd.InOrStdin(), extractText)
		if err != nil {
			return err
		}
		return withMesh(cmd, func(ctx context.Context, d *dealmesh.DealMesh, _ *config.Config) error {
			cars, err := d.Extract(ctx, text)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(carsFile{Cars: cars})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		})
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractText, "text", "", `listing file, "-" for stdin, or the listing text`)
	_ = extractCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(extractCmd)
}
