package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/paxocial/scribe-mcp-sub000/internal/estimate"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor [project]",
	Short: "Print a health summary for a project: activity, doc drift, and log file sizes",
	Long:  `doctor surfaces the same staleness and doc-drift signals the registry tracks internally, plus a human-readable size/estimate summary per configured log file, so an operator can spot a project that needs rotation or doc attention without querying SQLite directly.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	var names []string
	if len(args) == 1 {
		names = []string{args[0]}
	} else {
		all, err := e.registry.ListProjects(ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		for _, p := range all {
			names = append(names, p.Name)
		}
	}

	for _, name := range names {
		p, err := e.registry.GetProject(ctx, name)
		if err != nil || p == nil {
			fmt.Printf("%s: not found\n", name)
			continue
		}

		fmt.Printf("%s (%s)\n", p.Name, p.Status)
		fmt.Printf("  activity: score=%.2f staleness=%s last_entry=%s ago last_access=%s ago\n",
			p.Activity.ActivityScore, p.Activity.StalenessLevel,
			humanize.FtoaWithDigits(p.Activity.DaysSinceLastEntry, 1)+"d",
			humanize.FtoaWithDigits(p.Activity.DaysSinceLastAccess, 1)+"d")
		if p.Docs_.Flags["doc_drift_suspected"] {
			fmt.Printf("  docs: drift suspected (drift_score=%.2f)\n", p.Docs_.DriftScore)
		} else {
			fmt.Printf("  docs: in sync (drift_score=%.2f)\n", p.Docs_.DriftScore)
		}

		for logType, ltCfg := range e.cfg.LogTypes {
			path := filepath.Join(p.Root, ltCfg.PathTemplate)
			report, err := estimate.VerifyFileIntegrity(path)
			if err != nil {
				fmt.Printf("  %s: %v\n", logType, err)
				continue
			}
			fmt.Printf("  %s: %s, %s lines, sha256=%s\n", logType,
				humanize.Bytes(uint64(report.SizeBytes)),
				humanize.Comma(int64(report.LineCount)),
				report.SHA256[:12])
		}
	}
	return nil
}
