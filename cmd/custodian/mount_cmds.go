package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodian-dfir/custodian/internal/mountmgr"
	"github.com/custodian-dfir/custodian/internal/utils"
)

var (
	mountOffset      string
	mountFSTypeHint  string
	forgetAfter      bool
	reconcileRemount bool
	reconcileNoAuto  bool
)

var mountCmd = &cobra.Command{
	Use:   "mount <case-number> <image-path> <mount-point>",
	Short: "Mount an evidence image read-only and record it on the case",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		if _, err := sess.engine.OpenCase(args[0]); err != nil {
			return err
		}
		rec, err := sess.engine.Mount(context.Background(), mountmgr.MountRequest{
			ImagePath:  args[1],
			MountPoint: args[2],
			Offset:     mountOffset,
			FSTypeHint: mountFSTypeHint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Mounted %s at %s\n", rec.ImagePath, rec.MountPoint)
		fmt.Printf("  fs=%s offset=%d read_only=%t status=%s\n", rec.FSType, rec.Offset, rec.ReadOnly, rec.Status)
		return nil
	},
}

var unmountCmd = &cobra.Command{
	Use:   "unmount <case-number> <mount-point>",
	Short: "Release a mount; the record stays on the case as MISSING",
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
		if err := sess.engine.Unmount(context.Background(), args[1]); err != nil {
			return err
		}
		fmt.Printf("Unmounted %s\n", args[1])

		if forgetAfter {
			if err := sess.engine.RemoveMountRecord(args[1]); err != nil {
				return err
			}
			fmt.Println("Mount record removed from case")
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <case-number>",
	Short: "Resolve recorded mounts against the live mount table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		if _, err := sess.engine.OpenCase(args[0]); err != nil {
			return err
		}
		autoRemount := sess.engine.AutoRemount()
		if reconcileRemount {
			autoRemount = true
		}
		if reconcileNoAuto {
			autoRemount = false
		}
		report, err := sess.engine.Reconcile(context.Background(), autoRemount)
		if err != nil {
			return err
		}
		fmt.Printf("Reconciled %s in %s\n", report.CaseNumber, report.Duration.Round(time.Millisecond))
		fmt.Printf("  active=%d missing=%d errored=%d remounted=%d\n",
			report.Active, report.Missing, report.Errored, report.Remounted)
		for _, img := range report.Activated {
			fmt.Printf("  re-established: %s\n", img)
		}
		for _, lm := range report.Candidates {
			fmt.Printf("  candidate (unrecorded live mount): %s on %s\n", lm.Device, lm.MountPoint)
		}
		return nil
	},
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions <image-path>",
	Short: "List the partition table of a disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts, err := mountmgr.ListPartitions(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%-5s %-6s %-24s %14s %12s\n", "INDEX", "SCHEME", "TYPE", "BYTE OFFSET", "SIZE")
		for _, p := range parts {
			name := p.Type
			if p.Name != "" {
				name = fmt.Sprintf("%s (%s)", p.Type, p.Name)
			}
			fmt.Printf("%-5d %-6s %-24s %14d %12s\n",
				p.Index, p.Scheme, name, p.ByteOffset, utils.FormatBytes(p.SizeBytes))
		}
		return nil
	},
}

func init() {
	mountCmd.Flags().StringVar(&mountOffset, "offset", "", "byte offset of the partition (decimal, 0x hex, or sectors with s suffix)")
	mountCmd.Flags().StringVar(&mountFSTypeHint, "fs", "", "filesystem type hint (skips detection)")
	unmountCmd.Flags().BoolVar(&forgetAfter, "forget", false, "also remove the mount record from the case")
	reconcileCmd.Flags().BoolVar(&reconcileRemount, "auto-remount", false, "re-establish missing mounts")
	reconcileCmd.Flags().BoolVar(&reconcileNoAuto, "no-auto-remount", false, "report only, even if auto remount is configured")
}
