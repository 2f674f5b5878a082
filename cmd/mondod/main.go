// Command mondod is the server binary: it wires a cobra command tree, reads
// flags through viper, builds the OLTP/OLAP backends and query router, and
// runs the wire-protocol accept loop of spec.md §5/§6. There is no teacher
// analogue (the teacher ships no binary); the flag/config layering follows
// the cobra+viper root-command shape used by evalgo-org-eve and storj-storj:
// one RunE closure per root command, flags bound into viper via BindPFlags,
// config read through the viper instance rather than the flag set directly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MONDOD")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "mondod",
		Short: "MongoDB wire-compatible server with a dual OLTP/OLAP backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}

	flags := root.Flags()
	flags.String("data-dir", "./data", "directory holding the embedded OLTP databases")
	flags.String("listen-addr", "127.0.0.1:27017", "address to accept MongoDB wire connections on")
	flags.String("olap-endpoint", "", "HTTP endpoint of the OLAP proxy backend; empty disables OLAP routing")
	flags.String("olap-token", "", "bearer token presented to the OLAP proxy backend")
	flags.Int64("row-threshold", 10000, "estimated row count above which auto-routing prefers OLAP")
	flags.Bool("auto-route", true, "enable heuristic OLTP/OLAP auto-routing")
	flags.Bool("prefer-olap-aggregations", false, "prefer OLAP for aggregations with an OLAP-shaped signal even under the row threshold")
	flags.Int("retry-count", 3, "OLAP proxy call retry attempts")
	flags.Duration("retry-delay", 0, "delay between OLAP proxy retries (0 uses the proxy backend default)")
	flags.Duration("call-timeout", 0, "OLAP proxy call timeout (0 uses the proxy backend default)")
	flags.Int("cursor-sweep-interval-seconds", 60, "interval between expired-cursor sweeps")

	_ = v.BindPFlags(flags)

	return root
}

func newLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}
