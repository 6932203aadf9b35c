package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/utils"
)

var (
	caseName         string
	caseInvestigator string
	caseDescription  string
)

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Case management commands",
}

func init() {
	caseCreateCmd.Flags().StringVar(&caseName, "name", "", "case name (required)")
	caseCreateCmd.Flags().StringVar(&caseInvestigator, "investigator", "", "investigator name (required)")
	caseCreateCmd.Flags().StringVar(&caseDescription, "description", "", "case description")

	caseCmd.AddCommand(caseCreateCmd)
	caseCmd.AddCommand(caseListCmd)
	caseCmd.AddCommand(caseShowCmd)
}

var caseCreateCmd = &cobra.Command{
	Use:   "create <case-number>",
	Short: "Create a new case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		c, err := sess.engine.CreateCase(models.CaseMetadata{
			CaseNumber:   args[0],
			CaseName:     caseName,
			Investigator: caseInvestigator,
			Description:  caseDescription,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created case %s\n", c.CaseNumber)
		fmt.Printf("  Directory: %s\n", c.Path)
		return nil
	},
}

var caseListCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List cases, optionally filtered by a wildcard pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		summaries, err := sess.engine.ListCases(pattern)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No cases found")
			return nil
		}
		fmt.Printf("%-18s %-30s %-20s %9s %7s\n", "CASE", "NAME", "INVESTIGATOR", "EVIDENCE", "MOUNTS")
		for _, s := range summaries {
			fmt.Printf("%-18s %-30s %-20s %9d %7d\n",
				s.CaseNumber, s.CaseName, s.Investigator, s.EvidenceCount, s.MountCount)
		}
		return nil
	},
}

var caseShowCmd = &cobra.Command{
	Use:   "show <case-number>",
	Short: "Show a case record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		c, err := sess.store.LoadCase(args[0])
		if err != nil {
			return err
		}
		printCase(c)
		return nil
	},
}

func printCase(c *models.Case) {
	fmt.Printf("Case %s: %s\n", c.CaseNumber, c.CaseName)
	fmt.Printf("  Investigator: %s\n", c.Investigator)
	fmt.Printf("  Created:      %s\n", c.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if c.Description != "" {
		fmt.Printf("  Description:  %s\n", c.Description)
	}
	fmt.Printf("  Directory:    %s\n", c.Path)

	fmt.Printf("\nEvidence (%d):\n", len(c.Evidence))
	for _, item := range c.Evidence {
		fmt.Printf("  %s\n", item.SourcePath)
		fmt.Printf("    type=%s size=%s acquired=%s\n",
			item.Type, utils.FormatBytes(item.SizeBytes), item.AcquiredAt.Format("2006-01-02 15:04"))
		algorithms := make([]string, 0, len(item.Digests))
		for alg := range item.Digests {
			algorithms = append(algorithms, alg)
		}
		sort.Strings(algorithms)
		for _, alg := range algorithms {
			fmt.Printf("    %s: %s\n", alg, item.Digests[alg])
		}
		if item.LastVerification != "" && item.LastVerifiedAt != nil {
			fmt.Printf("    last verification: %s at %s\n",
				item.LastVerification, item.LastVerifiedAt.Format("2006-01-02 15:04"))
		}
	}

	fmt.Printf("\nMounts (%d):\n", len(c.Mounts))
	for _, m := range c.Mounts {
		fmt.Printf("  %s -> %s\n", m.MountPoint, m.ImagePath)
		fmt.Printf("    status=%s fs=%s offset=%d read_only=%t\n", m.Status, m.FSType, m.Offset, m.ReadOnly)
		if m.LastError != "" {
			fmt.Printf("    last error: %s\n", m.LastError)
		}
	}
}
