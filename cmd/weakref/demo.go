package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/weakref"
	"github.com/sarchlab/weakref/logging"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Purge the weak handles of an unreachable cycle.",
	Long: "`demo` builds two objects that refer to each other, takes a weak " +
		"handle to each, drops the program's roots, and waits for the " +
		"scheduler to sever the handles.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval > 0 {
			opts.PurgeInterval = interval
		}

		opts.StartPurging = true

		rt, err := weakref.MakeBuilder().
			WithOptions(opts).
			WithLogger(logging.NewWithWriter(cmd.ErrOrStderr(), "weakref", opts.LogLevel)).
			Build()
		if err != nil {
			return err
		}
		defer rt.Close()

		return runDemo(cmd.OutOrStdout(), rt, opts.PurgeInterval)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().Duration("interval", 200*time.Millisecond,
		"time between sweeps, overriding the configured interval")
}

func runDemo(out io.Writer, rt *weakref.Runtime, interval time.Duration) error {
	h := rt.Heap()

	a := h.NewInstance("Node")
	b := h.NewInstance("Node")

	if err := a.SetAttr("next", b); err != nil {
		return err
	}

	if err := b.SetAttr("next", a); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(2)

	cb := func(handle *weakref.Handle) {
		fmt.Fprintf(out, "callback: %s\n", handle)
		wg.Done()
	}

	ha, err := rt.MakeHandle(a, cb)
	if err != nil {
		return err
	}

	hb, err := rt.MakeHandle(b, cb)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "created %s and %s\n", ha, hb)
	fmt.Fprintf(out, "circular reference count of %s: %d\n",
		a.ID(), rt.CircularReferenceCount(a))

	h.Release(a)
	h.Release(b)
	fmt.Fprintln(out, "released the roots, waiting for a sweep")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * interval):
		return fmt.Errorf("handles still alive after %s", 10*interval)
	}

	if stats, ok := rt.Scheduler().LastStats(); ok {
		fmt.Fprintf(out, "sweep: scanned %d, purged %d, killed %d handles\n",
			stats.Scanned, stats.Purged, stats.HandlesKilled)
	}

	deadline := time.Now().Add(10 * interval)
	for (!a.Freed() || !b.Freed()) && time.Now().Before(deadline) {
		time.Sleep(interval / 10)
	}

	s := h.Stats()
	fmt.Fprintf(out, "heap: %d live, %d freed, %d collections\n",
		s.Live, s.Freed, s.Collections)

	return nil
}
