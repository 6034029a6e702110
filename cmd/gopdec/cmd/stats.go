package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/gopdec/internal/sysinfo"
)

var statsOutput string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print host resource information",
	Long: `Stats snapshots the host's CPU, memory, and load. Decode throughput
is bounded by memory bandwidth and page cache pressure, so this is the
first thing to check when a training pipeline stalls on input.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snap := sysinfo.Collect(cmd.Context())

		switch statsOutput {
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(snap)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		default:
			return fmt.Errorf("unknown output format %q (yaml, json)", statsOutput)
		}
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "yaml", "output format (yaml, json)")
	rootCmd.AddCommand(statsCmd)
}
