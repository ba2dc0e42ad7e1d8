package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"chaosring/internal/compositor"
	"chaosring/internal/config"
	"chaosring/internal/store"
	"chaosring/internal/tier"
)

// composeCommand renders a ring locally, which is handy for checking new
// overlay art without a Discord round trip.
func composeCommand() *cli.Command {
	return &cli.Command{
		Name:  "compose",
		Usage: "overlay a ring onto a local image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tier", Usage: "daoist, fren or regular", Required: true},
			&cli.PathFlag{Name: "in", Usage: "input image", Required: true},
			&cli.PathFlag{Name: "out", Usage: "output PNG", Value: "ring.png"},
		},
		Action: func(c *cli.Context) error {
			t, err := tier.Parse(c.String("tier"))
			if err != nil {
				return cli.Exit(err, 2)
			}
			overlays, err := config.LoadOverlays()
			if err != nil {
				return cli.Exit(err, 1)
			}
			tuning, err := config.LoadTuning(c.String("config"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			ov, err := compositor.NewOverlay(overlays[t].Data)
			if err != nil {
				return cli.Exit(fmt.Errorf("%s: %w", overlays[t].Path, err), 1)
			}
			raw, err := os.ReadFile(c.Path("in"))
			if err != nil {
				return cli.Exit(err, 1)
			}
			png, err := compositor.Compose(raw, ov, compositor.Limits{MaxDimension: tuning.MaxDimension})
			if err != nil {
				return cli.Exit(err, 1)
			}
			if err := os.WriteFile(c.Path("out"), png, 0o644); err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Fprintf(c.App.Writer, "wrote %s (%s ring)\n", c.Path("out"), t)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print /ring usage from the ledger",
		Action: func(c *cli.Context) error {
			tuning, err := config.LoadTuning(c.String("config"))
			if err != nil {
				return cli.Exit(err, 1)
			}
			if tuning.DBPath == "" {
				return cli.Exit("RING_DB_PATH is not set; the usage ledger is disabled", 1)
			}
			st, err := store.Open(tuning.DBPath)
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer st.Close()

			counts, err := st.Summary(c.Context)
			if err != nil {
				return cli.Exit(err, 1)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tOUTCOME\tCOUNT")
			for _, row := range counts {
				tierName := row.Tier
				if tierName == "" {
					tierName = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", tierName, row.Outcome, row.N)
			}
			return w.Flush()
		},
	}
}
