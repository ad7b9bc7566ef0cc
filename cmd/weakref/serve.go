package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/weakref"
	"github.com/sarchlab/weakref/logging"
	"github.com/sarchlab/weakref/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the monitor of a runtime until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		log := logging.NewWithWriter(cmd.ErrOrStderr(), "weakref", opts.LogLevel)

		rt, err := weakref.MakeBuilder().
			WithOptions(opts).
			WithLogger(log).
			Build()
		if err != nil {
			return err
		}
		defer rt.Close()

		m := monitoring.NewMonitor().
			WithLogger(log).
			WithPortNumber(opts.MonitorPort)
		m.RegisterRegistry(rt.Registry())
		m.RegisterScheduler(rt.Scheduler())
		m.RegisterHostStats(func() any { return rt.Heap().Stats() })

		port, err := m.StartServer()
		if err != nil {
			return err
		}

		if open, _ := cmd.Flags().GetBool("open"); open {
			url := fmt.Sprintf("http://localhost:%d", port)
			if err := browser.OpenURL(url); err != nil {
				log.Warn().Err(err).Str("url", url).Msg("cannot open browser")
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return m.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("open", false, "open the monitor in a browser")
}
