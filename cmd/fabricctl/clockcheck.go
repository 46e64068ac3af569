package main

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/spf13/cobra"
)

// newClockCheckCmd queries an NTP server and reports the host's clock
// offset. TxId timestamps are a purely logical, process-local counter and
// don't need wall-clock accuracy, but audit.Entry.Timestamp does: a drifting
// host clock makes the audit trail's ordering misleading even though it
// can never affect Wound-Wait's actual decisions.
func newClockCheckCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "clock-check",
		Short: "Check host clock drift against an NTP server before trusting audit timestamps",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: 3 * time.Second})
			if err != nil {
				return fmt.Errorf("fabricctl: ntp query %s: %w", server, err)
			}
			if err := resp.Validate(); err != nil {
				return fmt.Errorf("fabricctl: ntp response from %s failed validation: %w", server, err)
			}

			fmt.Printf("server:       %s\n", server)
			fmt.Printf("round trip:   %s\n", resp.RTT)
			fmt.Printf("clock offset: %s\n", resp.ClockOffset)
			if abs(resp.ClockOffset) > 2*time.Second {
				fmt.Println(failStyle.Render("host clock drift exceeds 2s: audit timestamps will be misleading"))
			} else {
				fmt.Println(okStyle.Render("host clock is within tolerance"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "pool.ntp.org", "NTP server to query")
	return cmd
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
