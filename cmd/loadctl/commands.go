package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"truckcount-api/internal/app"
	"truckcount-api/internal/model"
	"truckcount-api/internal/repository"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Recompute daily totals from approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				day := date
				if day == "" {
					day = s.summaries.Today()
				}
				summaries, err := s.summaries.SyncDate(cmd.Context(), day)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %d truck(s) for %s\n", len(summaries), day)
				fmt.Fprintln(cmd.OutOrStdout(), summaryTable(summaries))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to sync (YYYY-MM-DD, default today)")
	return cmd
}

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <truck_number> <date>",
		Short: "Mark a truck's daily count as complete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				summary, err := s.summaries.MarkComplete(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s on %s complete (total %d)\n",
					summary.TruckNumber, summary.Date, summary.TotalApproved)
				return nil
			})
		},
	}
}

func newSummariesCommand(ctx *commandContext) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List daily summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				summaries, err := s.summaries.List(cmd.Context(), date)
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No summaries")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), summaryTable(summaries))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to list (YYYY-MM-DD, default today)")
	return cmd
}

func newApprovalsCommand(ctx *commandContext) *cobra.Command {
	var truck string
	var limit int
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List recent approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				records, err := s.approvals.List(cmd.Context(), repository.ApprovalFilter{
					TruckNumber: truck,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No approvals")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), approvalTable(records))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&truck, "truck", "", "Only show this truck number")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	return cmd
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every message in the queue, including the pending one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("purge discards unreviewed messages; rerun with --yes")
			}
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Review.Purge(cmd.Context())
				if err != nil {
					return err
				}
				if result.Native {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue purge requested")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d message(s), %d failed\n", result.Deleted, result.Failed)
				if result.Incomplete {
					fmt.Fprintln(cmd.OutOrStdout(), "Round limit reached, messages may remain; run purge again")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")
	return cmd
}

func summaryTable(summaries []model.DailySummary) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		complete := "no"
		if s.CountComplete {
			complete = "yes"
		}
		rows = append(rows, []string{
			s.TruckNumber,
			s.Date,
			strconv.FormatInt(s.TotalApproved, 10),
			strconv.FormatInt(s.EntryCount, 10),
			complete,
		})
	}
	return renderTable(
		[]string{"Truck", "Date", "Approved", "Entries", "Complete"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func approvalTable(records []model.ApprovalRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		corrected := ""
		if r.CorrectedAt != nil {
			corrected = r.CorrectedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			r.CreatedAt.Local().Format(time.DateTime),
			r.TruckNumber,
			strconv.FormatInt(r.OriginalCount, 10),
			strconv.FormatInt(r.ApprovedCount, 10),
			r.Approver,
			r.MessageID,
			corrected,
		})
	}
	return renderTable(
		[]string{"Created", "Truck", "Original", "Approved", "Approver", "Message", "Corrected"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	)
}
