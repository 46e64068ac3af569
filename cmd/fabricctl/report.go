package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invpt/hig-proto/audit"
	"github.com/invpt/hig-proto/directory"
)

// newReportCmd opens the audit log and the directory snapshot concurrently
// (two unrelated files, no reason to serialize the opens) and prints a
// quick summary of each. The files are named by this command's --audit and
// --directory-snapshot flags; the run command writes neither of them.
func newReportCmd() *cobra.Command {
	var auditPath, snapshotPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a SQLite audit log and a buntdb directory snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			var log *audit.SQLiteLog
			var snap *directory.BuntSnapshotter

			g, _ := errgroup.WithContext(context.Background())
			g.Go(func() error {
				l, err := audit.OpenSQLiteLog(auditPath)
				if err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
				log = l
				return nil
			})
			g.Go(func() error {
				s, err := directory.OpenBuntSnapshotter(snapshotPath)
				if err != nil {
					return fmt.Errorf("open directory snapshot: %w", err)
				}
				snap = s
				return nil
			})
			if err := g.Wait(); err != nil {
				return fmt.Errorf("fabricctl: %w", err)
			}
			defer log.Close()
			defer snap.Close()

			entries, err := log.Recent(context.Background(), 20)
			if err != nil {
				return fmt.Errorf("fabricctl: read audit log: %w", err)
			}
			fmt.Println(hdrStyle.Render(fmt.Sprintf("last %d audit entries", len(entries))))
			for _, e := range entries {
				fmt.Printf("  %s  %-10s %-10s %s\n", e.Timestamp.Format("15:04:05"), e.Address, e.Outcome, e.TxId)
			}

			raw, err := snap.LastSnapshot()
			if err != nil {
				return fmt.Errorf("fabricctl: read directory snapshot: %w", err)
			}
			fmt.Println(hdrStyle.Render("directory snapshot"))
			if raw == "" {
				fmt.Println(dimStyle.Render("  (none saved yet)"))
			} else {
				fmt.Println("  " + raw)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&auditPath, "audit", "audit.db", "path to the SQLite audit log")
	cmd.Flags().StringVar(&snapshotPath, "directory-snapshot", "directory.db", "path to the buntdb directory snapshot")
	return cmd
}
