package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/scan"
)

func newSBOMCommand(root *rootOptions) *cobra.Command {
	var format, outputDir string
	cmd := &cobra.Command{
		Use:   "sbom IMAGE",
		Short: "Generate an SBOM for a container image with trivy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := scan.GenerateSBOM(cmd.Context(), newRunner(), args[0], format, inWorkspace(root, outputDir))
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"image": args[0], "format": format}).Info("SBOM written")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", scan.FormatCycloneDX, "cyclonedx or spdx-json")
	cmd.Flags().StringVar(&outputDir, "output-dir", "reports/sbom", "SBOM directory (relative to the workspace)")
	return cmd
}
