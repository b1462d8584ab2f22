package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paxocial/scribe-mcp-sub000/internal/rotate"
	"github.com/paxocial/scribe-mcp-sub000/internal/template"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate [project] [log-type]",
	Short: "Rotate a project's log file, or run the background threshold check once",
	Long:  `rotate estimates a log's entry count against its configured threshold and, if it's due, archives it and starts a fresh file. With no arguments it checks every registered project's log types and rotates whichever are due.`,
	Args:  cobra.MaximumNArgs(2),
	RunE:  runRotate,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rotateCmd.Flags().Bool("dry-run", false, "estimate and classify without writing anything")
	rotateCmd.Flags().Bool("force", false, "rotate even if the threshold hasn't been reached (only with a project argument; the no-argument check always applies the threshold)")
}

func runRotate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	ctx := context.Background()

	engine := rotate.New(e.cfg, e.store, e.state, e.registry, template.NullRenderer{}, e.log)

	if len(args) == 0 {
		projects, err := e.registry.ListProjects(ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		for _, p := range projects {
			logTypes := make([]string, 0, len(e.cfg.LogTypes))
			for lt := range e.cfg.LogTypes {
				logTypes = append(logTypes, lt)
			}
			results := engine.RotateAll(ctx, p.Name, logTypes, !dryRun)
			for lt, res := range results {
				report(p.Name, lt, res)
			}
		}
		return nil
	}

	project := args[0]
	p, err := e.registry.GetProject(ctx, project)
	if err != nil {
		return fmt.Errorf("lookup project: %w", err)
	}
	if p == nil {
		return fmt.Errorf("unknown project: %s", project)
	}

	logType := "progress"
	if len(args) == 2 {
		logType = args[1]
	}
	ltCfg, ok := e.cfg.LogTypes[logType]
	if !ok {
		return fmt.Errorf("unknown log type: %s", logType)
	}

	opts := rotate.Options{
		Project:       project,
		LogType:       logType,
		Path:          filepath.Join(p.Root, ltCfg.PathTemplate),
		DryRun:        dryRun,
		Confirm:       !dryRun,
		AutoThreshold: !force,
	}
	res, err := engine.Rotate(ctx, opts)
	if err != nil {
		return err
	}
	report(project, logType, res)
	return nil
}

func report(project, logType string, res *rotate.Result) {
	if res == nil {
		fmt.Printf("%s/%s: no result\n", project, logType)
		return
	}
	if res.RotationSkipped {
		fmt.Printf("%s/%s: skipped (%s)\n", project, logType, res.SkipReason)
		return
	}
	if res.DryRunPlan != nil {
		fmt.Printf("%s/%s: dry run, would rotate -> %s (%d estimated entries, %s)\n", project, logType,
			res.DryRunPlan.ArchivePath, res.DryRunPlan.EstimatedCount, res.DryRunPlan.EstimationDecision)
		return
	}
	fmt.Printf("%s/%s: rotated -> %s (%d entries)\n", project, logType, res.ArchivePath, res.RotatedEntryCount)
}
