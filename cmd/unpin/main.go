// Package main is the CLI entry point for unpin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/bypass"
	"github.com/gand3lf/unpin/internal/image"
	"github.com/gand3lf/unpin/internal/infra"
	"github.com/gand3lf/unpin/internal/job"
	"github.com/gand3lf/unpin/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "unpin",
	Short: "Runtime SSL/certificate pinning bypass",
	Long: `unpin defeats certificate-pinning logic inside a running application
by hooking, at runtime, the functions and methods that decide whether a
server certificate is trusted. It is intended for security testers who
need transport traffic to be interceptable despite an application's own
pinning defenses.

Patches live only as long as the process; nothing is persisted.`,
	Version: Version,
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable SSL pinning in the instrumented process",
	Long: `Runs every bypass strategy against the loaded image. Strategies whose
targets are absent are silent no-ops; every installed hook is grouped
under one job for later teardown.`,
	RunE: runDisable,
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List bypass strategies",
	Long:  `Shows every known pinning mechanism and the strategy that defeats it.`,
	RunE:  runStrategies,
}

var psCmd = &cobra.Command{
	Use:   "ps <pattern>",
	Short: "Find candidate target processes by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runPS,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	quiet      bool
	jsonOutput bool
)

func init() {
	disableCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-hook diagnostic logging")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(strategiesCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDisable(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// The quiet flag is fixed here, before any strategy installs a
	// hook, and never written again.
	sink := infra.NewSink(logger, quiet)
	jobs := job.NewManager(sink)
	disabler := usecase.NewDisabler(image.Default(), bypass.NewRegistry(), jobs, sink)

	report, err := disabler.Disable(context.Background())
	fmt.Printf("job #%d (%s): %d hooks installed\n",
		report.Job.ID(), report.Job.GUID(), report.Job.HookCount())
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-16s %s", res.StrategyID, res.Outcome)
		if res.Hooks > 0 {
			line += fmt.Sprintf(" (%d hooks)", res.Hooks)
		}
		if res.Note != "" {
			line += " - " + res.Note
		}
		fmt.Println(line)
	}
	return err
}

func runStrategies(cmd *cobra.Command, args []string) error {
	for _, s := range bypass.NewRegistry().All() {
		fmt.Printf("%-16s %s\n", s.ID(), s.Name())
	}
	return nil
}

func runPS(cmd *cobra.Command, args []string) error {
	procs, err := infra.NewProcessLocator().FindByName(args[0])
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}
	if len(procs) == 0 {
		fmt.Println("no matching processes")
		return nil
	}
	for _, p := range procs {
		fmt.Printf("%8d  %s\n", p.PID, p.Name)
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("unpin %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}
