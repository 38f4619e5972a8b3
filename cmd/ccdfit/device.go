package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/likelihood"
)

func deviceCmd() *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Describe the compute device and the supported models",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Usage: "device worker goroutines (0 uses every CPU)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			dev, err := device.New(&device.Config{Workers: int(c.Int("workers"))})
			if err != nil {
				return err
			}
			fmt.Println(dev)

			fmt.Println("models:")
			for _, t := range likelihood.Tags {
				caps, err := likelihood.Describe(t)
				if err != nil {
					return err
				}
				fmt.Printf("  %-10s %+v\n", t, caps)
			}

			fmt.Print("formats:")
			for _, f := range column.Formats {
				fmt.Printf(" %v", f)
			}
			fmt.Println()
			return nil
		},
	}
}
