package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wbrown/janus-merge/bmerge/cluster"
)

// TestDataConfig sizes a generated pair of tables.
type TestDataConfig struct {
	LeftRows  int
	RightRows int
	KeyRange  int
	ChunkRows int64
	// NAFraction of key values are left missing.
	NAFraction float64
}

func DefaultTestDataConfig() TestDataConfig {
	return TestDataConfig{LeftRows: 10_000, RightRows: 20_000, KeyRange: 5_000, ChunkRows: 1_000}
}

func MediumTestDataConfig() TestDataConfig {
	return TestDataConfig{LeftRows: 500_000, RightRows: 1_000_000, KeyRange: 200_000, ChunkRows: 50_000}
}

func LargeTestDataConfig() TestDataConfig {
	return TestDataConfig{LeftRows: 5_000_000, RightRows: 10_000_000, KeyRange: 2_000_000, ChunkRows: 250_000}
}

func generateCmd() *cobra.Command {
	var (
		preset string
		seed   int64
		naFrac float64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a pair of random tables, left and right, to join",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var tc TestDataConfig
			switch preset {
			case "default":
				tc = DefaultTestDataConfig()
			case "medium":
				tc = MediumTestDataConfig()
			case "large":
				tc = LargeTestDataConfig()
			default:
				return errors.Newf("unknown preset %q (use default, medium or large)", preset)
			}
			tc.NAFraction = naFrac

			c, err := cluster.OpenCluster(cfg.DataDir, cfg.Nodes)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("Building test tables in %s on %d nodes\n", cfg.DataDir, cfg.Nodes)
			fmt.Printf("  left:  %s rows\n", humanize.Comma(int64(tc.LeftRows)))
			fmt.Printf("  right: %s rows\n", humanize.Comma(int64(tc.RightRows)))
			fmt.Printf("  keys:  %s distinct\n", humanize.Comma(int64(tc.KeyRange)))

			rng := rand.New(rand.NewSource(seed))
			ctx := context.Background()
			left := randomTable(rng, tc.LeftRows, tc, "value")
			if _, err := c.CreateTable(ctx, "left", []string{"key", "value"}, left, tc.ChunkRows); err != nil {
				return err
			}
			right := randomTable(rng, tc.RightRows, tc, "price", "qty")
			if _, err := c.CreateTable(ctx, "right", []string{"key", "price", "qty"}, right, tc.ChunkRows); err != nil {
				return err
			}
			fmt.Println("Done. Join them with: bmerge join left right")
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "default", "table sizes: default, medium or large")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().Float64Var(&naFrac, "na", 0, "fraction of missing keys")
	return cmd
}

// randomTable returns a key column followed by one value column per name.
func randomTable(rng *rand.Rand, n int, tc TestDataConfig, values ...string) [][]float64 {
	cols := make([][]float64, 1+len(values))
	for c := range cols {
		cols[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if rng.Float64() < tc.NAFraction {
			cols[0][i] = math.NaN()
		} else {
			cols[0][i] = float64(rng.Intn(tc.KeyRange))
		}
		for c := 1; c < len(cols); c++ {
			cols[c][i] = math.Round(rng.Float64()*10000) / 100
		}
	}
	return cols
}
