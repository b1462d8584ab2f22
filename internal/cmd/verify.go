package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paxocial/scribe-mcp-sub000/internal/estimate"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [project]",
	Short: "Recompute and print the SHA-256/line-count integrity of a project's log files",
	Long:  `verify streams every configured log file for a project (or all registered projects) and reports its current size, line count, and content hash, for comparison against the rotation ledger's recorded archive hashes.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	var projects []string
	if len(args) == 1 {
		projects = []string{args[0]}
	} else {
		all, err := e.registry.ListProjects(ctx)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		for _, p := range all {
			projects = append(projects, p.Name)
		}
	}

	exitErr := false
	for _, name := range projects {
		p, err := e.registry.GetProject(ctx, name)
		if err != nil || p == nil {
			fmt.Printf("%s: not found\n", name)
			exitErr = true
			continue
		}
		for logType, ltCfg := range e.cfg.LogTypes {
			path := filepath.Join(p.Root, ltCfg.PathTemplate)
			report, err := estimate.VerifyFileIntegrity(path)
			if err != nil {
				fmt.Printf("%s/%s: %v\n", name, logType, err)
				continue
			}
			fmt.Printf("%s/%s: %d bytes, %d lines, sha256=%s\n", name, logType, report.SizeBytes, report.LineCount, report.SHA256)
		}
	}
	if exitErr {
		return fmt.Errorf("one or more projects could not be verified")
	}
	return nil
}
