package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodian-dfir/custodian/internal/engine"
	"github.com/custodian-dfir/custodian/internal/models"
)

var (
	evidenceType        string
	evidenceDescription string
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Evidence ledger commands",
}

func init() {
	evidenceAddCmd.Flags().StringVar(&evidenceType, "type", "disk_image",
		"evidence type (disk_image, log_bundle, capture_file, memory_dump, other)")
	evidenceAddCmd.Flags().StringVar(&evidenceDescription, "description", "", "free-form description")

	evidenceCmd.AddCommand(evidenceAddCmd)
	evidenceCmd.AddCommand(evidenceVerifyCmd)
	evidenceCmd.AddCommand(evidenceDigestCmd)
}

var evidenceAddCmd = &cobra.Command{
	Use:   "add <case-number> <source-path>",
	Short: "Record an evidence item and compute its baseline digests",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		if _, err := sess.engine.OpenCase(args[0]); err != nil {
			return err
		}
		item, err := sess.engine.RecordEvidence(context.Background(), engine.EvidenceInput{
			SourcePath:  args[1],
			Type:        models.ParseEvidenceType(evidenceType),
			Description: evidenceDescription,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Recorded %s (%s)\n", item.SourcePath, item.Type)
		fmt.Println("Computing baseline digests...")

		// close() drains the pool, so the digests are on disk when the
		// command returns. Show them.
		sess.pool.Wait()
		if active := sess.engine.ActiveCase(); active != nil {
			if recorded := active.EvidenceBySource(item.SourcePath); recorded != nil {
				for alg, digest := range recorded.Digests {
					fmt.Printf("  %s: %s\n", alg, digest)
				}
			}
		}
		return nil
	},
}

var evidenceVerifyCmd = &cobra.Command{
	Use:   "verify <case-number> <source-path>",
	Short: "Re-hash an evidence item and compare against its baseline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		if _, err := sess.engine.OpenCase(args[0]); err != nil {
			return err
		}
		result, err := sess.engine.VerifyEvidence(context.Background(), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[1], result)
		if result == models.VerifyMismatch {
			return fmt.Errorf("digest mismatch: evidence bytes changed since acquisition")
		}
		return nil
	},
}

var evidenceDigestCmd = &cobra.Command{
	Use:   "digest <case-number> <source-path> <algorithm> <value>",
	Short: "Record an externally computed digest for an evidence item",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		if _, err := sess.engine.OpenCase(args[0]); err != nil {
			return err
		}
		if err := sess.engine.AddDigest(args[1], args[2], args[3]); err != nil {
			return err
		}
		fmt.Printf("Recorded %s digest for %s\n", args[2], args[1])
		return nil
	},
}
