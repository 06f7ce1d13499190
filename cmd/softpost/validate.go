package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/validate"
)

func newValidateCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "validate <artifact.json|->",
		Short: "Run the brand checks against an artifact file",
		Long: `Validate reads a content artifact as JSON (use "-" for stdin), runs every
brand check against it and prints the result. It exits non-zero when any
check fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := brand.Load(rulesPath)
			if err != nil {
				return err
			}
			a, err := readArtifact(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			res := validate.Validate(a, rules)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.IsValid {
				return fmt.Errorf("artifact failed %d check(s): %v", len(res.Failed()), res.Failed())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", os.Getenv("BRAND_RULES_PATH"), "brand rules YAML (defaults to the embedded rules)")
	return cmd
}

func readArtifact(stdin io.Reader, path string) (*model.ContentArtifact, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a model.ContentArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}
