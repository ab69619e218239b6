package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reillywatson/cipipeline/internal/shell"
)

// SBOM formats supported by trivy
const (
	FormatCycloneDX = "cyclonedx"
	FormatSPDXJSON  = "spdx-json"
)

// GenerateSBOM writes an SBOM for image into outputDir and returns its path
func GenerateSBOM(ctx context.Context, runner shell.Runner, image, format, outputDir string) (string, error) {
	switch format {
	case "":
		format = FormatCycloneDX
	case FormatCycloneDX, FormatSPDXJSON:
	default:
		return "", fmt.Errorf("unsupported SBOM format %q", format)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create SBOM directory: %w", err)
	}
	path := filepath.Join(outputDir, reportName("sbom", image, "."+format+".json"))

	args := []string{"image", "--quiet", "--format", format, "--output", path, image}
	if _, err := runner.Run(ctx, shell.Command{Name: "trivy", Args: args}); err != nil {
		return "", fmt.Errorf("SBOM generation for %s failed: %w", image, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("trivy did not write SBOM %s: %w", path, err)
	}
	return path, nil
}
