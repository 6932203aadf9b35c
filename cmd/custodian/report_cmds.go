package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodian-dfir/custodian/pkg/audit"
	"github.com/custodian-dfir/custodian/pkg/reporting"
)

var (
	reportFormat   string
	auditCase      string
	auditOperation string
	auditLimit     int
)

var reportCmd = &cobra.Command{
	Use:   "report <case-number>",
	Short: "Write a case report into the case's exports directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		format := reporting.ReportFormat(strings.ToLower(reportFormat))
		if format != reporting.FormatPDF && format != reporting.FormatCSV {
			return fmt.Errorf("format must be pdf or csv, got %q", reportFormat)
		}

		c, err := sess.store.LoadCase(args[0])
		if err != nil {
			return err
		}
		custody, err := audit.GetLogger().Query(audit.QueryFilter{CaseNumber: args[0], Limit: 1000})
		if err != nil {
			fmt.Printf("Warning: audit query failed (%v), report will have no custody log\n", err)
			custody = nil
		}
		path, err := reporting.WriteCaseReport(c, custody, format)
		if err != nil {
			audit.Record("generate_report", args[0], args[0], audit.OutcomeFailure, err.Error())
			return err
		}
		audit.Record("generate_report", args[0], args[0], audit.OutcomeSuccess, path)
		fmt.Printf("Report written to %s\n", path)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.close()

		events, err := audit.GetLogger().Query(audit.QueryFilter{
			CaseNumber: auditCase,
			Operation:  auditOperation,
			Limit:      auditLimit,
		})
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}
		for _, evt := range events {
			line := fmt.Sprintf("%s  %-18s %-8s %s",
				evt.Timestamp.Format("2006-01-02 15:04:05"), evt.Operation, evt.Outcome, evt.Target)
			if evt.Details != "" {
				line += "  (" + evt.Details + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "pdf", "report format (pdf or csv)")
	auditCmd.Flags().StringVar(&auditCase, "case", "", "filter by case number")
	auditCmd.Flags().StringVar(&auditOperation, "operation", "", "filter by operation")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to show")
}
