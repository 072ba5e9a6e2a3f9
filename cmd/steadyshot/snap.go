package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ayusman/steadyshot/internal/app"
	"github.com/ayusman/steadyshot/internal/scan"
)

var (
	snapOut         string
	snapTimeout     time.Duration
	snapManualAfter time.Duration
)

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Wait for one steady capture and write it as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnap(cmd.Context(), rootOpts)
	},
}

func init() {
	snapCmd.Flags().StringVarP(&snapOut, "out", "o", "capture.png", "Output PNG file")
	snapCmd.Flags().DurationVarP(&snapTimeout, "timeout", "t", 2*time.Minute, "Give up after this long")
	snapCmd.Flags().DurationVar(&snapManualAfter, "manual-after", 0, "Capture whatever is in frame after this long (0 waits for a steady subject)")

	rootCmd.AddCommand(snapCmd)
}

func runSnap(ctx context.Context, opts Options) error {
	captures := make(chan scan.Result, 1)
	session, err := newSession(opts, func(res scan.Result) {
		select {
		case captures <- res:
		default:
		}
	})
	if err != nil {
		return err
	}

	if err := session.Start(); err != nil {
		return fmt.Errorf("start capture session: %w", err)
	}
	defer session.Stop()

	ctx, cancel := context.WithTimeout(ctx, snapTimeout)
	defer cancel()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Finding "+session.Mode().Label()),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	var manual <-chan time.Time
	if snapManualAfter > 0 {
		timer := time.NewTimer(snapManualAfter)
		defer timer.Stop()
		manual = timer.C
	}

	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			bar.Exit()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("no capture within %s", snapTimeout)
			}
			return ctx.Err()
		case snap := <-updates:
			showProgress(bar, snap)
		case <-manual:
			manual = nil
			if _, err := session.Trigger(ctx); err != nil && !errors.Is(err, app.ErrTriggerIgnored) {
				return fmt.Errorf("manual capture: %w", err)
			}
		case res := <-captures:
			bar.Finish()
			if err := os.WriteFile(snapOut, res.Image, 0644); err != nil {
				return fmt.Errorf("write %s: %w", snapOut, err)
			}
			fmt.Printf("Saved %dx%d %s capture to %s\n", res.Width, res.Height, res.Mode.Label(), snapOut)
			return nil
		}
	}
}

// showProgress mirrors the hold-still progress of a snapshot on the bar.
func showProgress(bar *progressbar.ProgressBar, snap app.Snapshot) {
	bar.Describe(snap.Message)
	if snap.Status == scan.StatusLocking || snap.Status == scan.StatusCaptured {
		bar.Set(int(snap.Progress * 100))
		return
	}
	bar.Set(0)
}
