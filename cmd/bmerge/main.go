package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        Config
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bmerge",
		Short: "Distributed binary-merge join over partitioned tables",
		Long: `bmerge stages two tables as sorted MSB partitions across a set of
in-process nodes and joins them with a recursive binary merge. Results are
written as compressed column chunks to the nodes' stores.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("data") {
				cfg.DataDir = loaded.DataDir
			}
			if !flags.Changed("nodes") {
				cfg.Nodes = loaded.Nodes
			}
			mergeJoinConfig(flags.Changed, &cfg.Join, loaded.Join)
			return nil
		},
	}

	defaults := defaultConfig()
	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file")
	pf.StringVar(&cfg.DataDir, "data", defaults.DataDir, "directory holding the node stores")
	pf.IntVar(&cfg.Nodes, "nodes", defaults.Nodes, "number of nodes")

	root.AddCommand(generateCmd(), joinCmd())
	return root
}

// mergeJoinConfig copies every join setting not given as a flag from the
// config file.
func mergeJoinConfig(changed func(string) bool, dst *JoinConfig, file JoinConfig) {
	if !changed("type") {
		dst.Type = file.Type
	}
	if !changed("columns") {
		dst.Columns = file.Columns
	}
	if !changed("max-rows-per-chunk") {
		dst.MaxRowsPerChunk = file.MaxRowsPerChunk
	}
	if !changed("fetch-batch-size") {
		dst.FetchBatchSize = file.FetchBatchSize
	}
	if !changed("parallel-threshold") {
		dst.ParallelMergeThreshold = file.ParallelMergeThreshold
	}
	if !changed("workers") {
		dst.Workers = file.Workers
	}
	if !changed("partition-batch-size") {
		dst.PartitionBatchSize = file.PartitionBatchSize
	}
}
