// Command agnosd is a minimal Agnos server host: it registers no functions
// of its own (a generated service stub does that by constructing its own
// *server.Dispatcher), but exposes the "-m simple|threaded|lib", "-h", "-p"
// surface any binary built on this core needs.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agnos-rpc/agnos-go/objref"
	"github.com/agnos-rpc/agnos-go/packer"
	"github.com/agnos-rpc/agnos-go/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type runOptions struct {
	mode string
	host string
	port int
}

func newRootCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "agnosd",
		Short: "Agnos RPC server host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "simple", "server mode: simple, threaded, or lib")
	cmd.Flags().StringVarP(&opts.host, "host", "h", "", "bind address (empty binds all interfaces)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 17017, "bind port (ignored in lib mode)")
	return cmd
}

func run(opts *runOptions) error {
	mode, err := server.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	log := logrus.New()
	registry := packer.NewRegistry()
	table := objref.NewTable()
	dispatcher := server.NewDispatcher("agnosd", "0.1.0", 0)

	reg := prometheus.NewRegistry()
	liveCells := func() float64 { return float64(table.Len()) }

	cfg := server.Config{
		Mode:       mode,
		Host:       opts.host,
		Port:       opts.port,
		Registry:   registry,
		Dispatcher: dispatcher,
		Table:      table,
		ProcessorOpts: []server.Option{
			server.WithLogger(log),
			server.WithMetrics(server.NewMetrics(reg, liveCells)),
		},
	}

	if err := server.Serve(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
