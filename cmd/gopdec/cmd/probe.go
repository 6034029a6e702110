package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var probeOutput string

var probeCmd = &cobra.Command{
	Use:   "probe FILE...",
	Short: "Print stream metadata for video files",
	Long: `Probe indexes each file and prints its stream metadata: codec,
dimensions, frame rate, frame count, and whether the stream has a
variable frame rate.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		infos, err := e.ProbeAll(args)
		if err != nil {
			return err
		}

		switch probeOutput {
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(infos)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		case "text":
			for _, info := range infos {
				fmt.Printf("%s\n", info.Path)
				fmt.Printf("  codec:       %s\n", info.Codec)
				fmt.Printf("  dimensions:  %dx%d\n", info.Width, info.Height)
				fmt.Printf("  frame rate:  %s\n", info.AvgFrameRate)
				fmt.Printf("  time base:   %s\n", info.TimeBase)
				fmt.Printf("  frames:      %d\n", info.FrameCount)
				fmt.Printf("  duration:    %d\n", info.Duration)
				fmt.Printf("  color range: %s\n", orUnknown(string(info.ColorRange)))
				fmt.Printf("  vfr:         %t\n", info.VFR)
			}
			return nil
		default:
			return fmt.Errorf("unknown output format %q (text, yaml, json)", probeOutput)
		}
	},
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "text", "output format (text, yaml, json)")
	rootCmd.AddCommand(probeCmd)
}
