package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wbrown/janus-merge/bmerge/annotations"
	"github.com/wbrown/janus-merge/bmerge/cluster"
	"github.com/wbrown/janus-merge/bmerge/executor"
)

func joinCmd() *cobra.Command {
	var (
		verbose bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "join LEFT RIGHT",
		Short: "Join two tables on their leading key columns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := cfg.Join.Options()
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			opts.Metrics = executor.NewMetrics(reg)

			c, err := cluster.OpenCluster(cfg.DataDir, cfg.Nodes)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := context.Background()
			left, err := c.Table(ctx, args[0])
			if err != nil {
				return err
			}
			right, err := c.Table(ctx, args[1])
			if err != nil {
				return err
			}

			// Create annotation handler if verbose mode
			var handler annotations.Handler
			if verbose {
				formatter := annotations.NewOutputFormatter(os.Stderr)
				handler = annotations.Handler(formatter.Handle)
			}

			start := time.Now()
			frame, err := executor.Join(ctx, c, left, right, cfg.Join.Columns, opts, executor.NewContext(handler))
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			formatter := executor.NewTableFormatter()
			formatter.MaxRows = limit
			out, err := formatter.FormatFrame(ctx, frame)
			if err != nil {
				return err
			}
			fmt.Println(out)
			fmt.Printf("%s rows in %s chunks from %d partition pairs in %v\n",
				humanize.Comma(frame.NumRows), humanize.Comma(int64(frame.NumChunks())), len(frame.Pairs), elapsed)

			if verbose {
				printMetrics(reg)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&verbose, "verbose", "v", false, "show join annotations and metrics")
	f.IntVar(&limit, "limit", 20, "result rows to print (0 prints all)")
	f.StringVar(&cfg.Join.Type, "type", "inner", "join type: inner or all-left")
	f.IntVar(&cfg.Join.Columns, "columns", 1, "number of leading key columns to join on")
	f.IntVar(&cfg.Join.MaxRowsPerChunk, "max-rows-per-chunk", executor.DefaultMaxRowsPerChunk, "rows per persisted result chunk")
	f.Int64Var(&cfg.Join.FetchBatchSize, "fetch-batch-size", 0, "rows per remote fetch (0 uses the partition batch size)")
	f.Int64Var(&cfg.Join.ParallelMergeThreshold, "parallel-threshold", 0, "left range size that forks a merge branch (0 merges sequentially)")
	f.IntVar(&cfg.Join.Workers, "workers", 0, "concurrent partition pair tasks (0 uses NumCPU)")
	f.Int64Var(&cfg.Join.PartitionBatchSize, "partition-batch-size", 1<<15, "rows per staged partition batch")
	return cmd
}

func printMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gathering metrics: %v\n", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			label := ""
			for _, lp := range m.GetLabel() {
				label += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(os.Stderr, "%s%s %s\n", mf.GetName(), label, humanize.Commaf(m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(os.Stderr, "%s%s count=%d sum=%.3fs\n", mf.GetName(), label, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
}
