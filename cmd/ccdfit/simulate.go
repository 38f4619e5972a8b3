package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/simulate"
)

func simulateCmd() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Write a simulated data file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Value: "logistic", Usage: "model to simulate"},
			&cli.IntFlag{Name: "rows", Value: 200, Usage: "number of rows"},
			&cli.IntFlag{Name: "group-size", Value: 4, Usage: "rows per stratum of grouped models"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			&cli.BoolFlag{Name: "weighted", Usage: "draw frequency weights"},
			&cli.BoolFlag{Name: "offset", Usage: "draw an offset"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "-", Usage: "output file (- for stdout)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			tag, err := likelihood.ParseTag(c.String("model"))
			if err != nil {
				return err
			}
			config := simulate.DefaultConfig()
			config.Rows = int(c.Int("rows"))
			config.GroupSize = int(c.Int("group-size"))
			config.Seed = c.Uint64("seed")
			config.Weighted = c.Bool("weighted")
			config.Offset = c.Bool("offset")

			p, err := simulate.New(tag, config)
			if err != nil {
				return err
			}
			if err := writeJSON(c.String("output"), problemJSON(p)); err != nil {
				return err
			}
			if out := c.String("output"); out != "-" {
				_, _ = fmt.Fprintf(os.Stderr, "wrote %d rows of %v data to %s\n", p.Matrix.NumRows(), tag, out)
			}
			return nil
		},
	}
}
