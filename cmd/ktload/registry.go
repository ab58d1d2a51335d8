package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/ktrace/internal/loadgen"
)

var registryOut string

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Print the concept registry for the generated workload",
	Long: `Print the YAML concept registry that maps every generated question,
activity and content page to its concept. Pass the same workload flags as
to run.

Example:
  ktload registry --concepts 10 -o registry.yaml`,
	RunE: runRegistry,
}

func init() {
	registryCmd.Flags().StringVarP(&registryOut, "output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(registryCmd)
}

func runRegistry(cmd *cobra.Command, _ []string) error {
	raw, err := loadgen.RegistryYAML(&workload)
	if err != nil {
		return fmt.Errorf("render registry: %w", err)
	}
	if registryOut == "" {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	return os.WriteFile(registryOut, raw, 0o600)
}
