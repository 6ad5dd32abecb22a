package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/executor"
)

// Config is the YAML configuration shared by the subcommands. Flags given
// on the command line override it.
type Config struct {
	DataDir string     `yaml:"data_dir"`
	Nodes   int        `yaml:"nodes"`
	Join    JoinConfig `yaml:"join"`
}

type JoinConfig struct {
	Type                   string `yaml:"type"`
	Columns                int    `yaml:"columns"`
	MaxRowsPerChunk        int    `yaml:"max_rows_per_chunk"`
	FetchBatchSize         int64  `yaml:"fetch_batch_size"`
	ParallelMergeThreshold int64  `yaml:"parallel_merge_threshold"`
	Workers                int    `yaml:"workers"`
	PartitionBatchSize     int64  `yaml:"partition_batch_size"`
}

func defaultConfig() Config {
	opts := executor.DefaultOptions()
	return Config{
		DataDir: "bmerge-data",
		Nodes:   4,
		Join: JoinConfig{
			Type:               bmerge.Inner.String(),
			Columns:            1,
			MaxRowsPerChunk:    opts.MaxRowsPerChunk,
			PartitionBatchSize: opts.Partition.BatchSize,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Options converts the join section to executor options.
func (c JoinConfig) Options() (executor.Options, error) {
	jt, err := bmerge.ParseJoinType(c.Type)
	if err != nil {
		return executor.Options{}, err
	}
	opts := executor.DefaultOptions()
	opts.JoinType = jt
	opts.MaxRowsPerChunk = c.MaxRowsPerChunk
	opts.FetchBatchSize = c.FetchBatchSize
	opts.ParallelMergeThreshold = c.ParallelMergeThreshold
	opts.MaxTaskWorkers = c.Workers
	if c.PartitionBatchSize > 0 {
		opts.Partition.BatchSize = c.PartitionBatchSize
	}
	return opts, nil
}
