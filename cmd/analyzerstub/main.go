// cmd/analyzerstub/main.go runs a single analyzer stub process, for
// exercising the gateway's dispatch and health-probe paths without a
// real downstream analyzer.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veena-u/logs-distributor/internal/analyzerstub"
)

func main() {
	var (
		id         string
		port       int
		minLatency time.Duration
		maxLatency time.Duration
		errorRate  float64
	)

	root := &cobra.Command{
		Use:   "analyzerstub",
		Short: "Run a standalone analyzer stub implementing /analyze and /health",
		RunE: func(cmd *cobra.Command, args []string) error {
			stub := analyzerstub.New(analyzerstub.Config{
				ID:         id,
				Port:       port,
				MinLatency: minLatency,
				MaxLatency: maxLatency,
				ErrorRate:  errorRate,
			})
			fmt.Printf("analyzer stub %q listening on :%d (latency %s-%s, error rate %.2f)\n",
				id, port, minLatency, maxLatency, errorRate)
			return stub.Start()
		},
	}

	root.Flags().StringVar(&id, "id", "stub1", "analyzer id reported in responses")
	root.Flags().IntVar(&port, "port", 9001, "listen port")
	root.Flags().DurationVar(&minLatency, "min-latency", 5*time.Millisecond, "minimum simulated latency")
	root.Flags().DurationVar(&maxLatency, "max-latency", 25*time.Millisecond, "maximum simulated latency")
	root.Flags().Float64Var(&errorRate, "error-rate", 0, "probability in [0,1] of a simulated failure")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
