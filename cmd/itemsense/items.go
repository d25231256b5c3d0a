package main

import (
	"encoding/csv"

	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/Sternrassler/itemsense-client/pkg/pagination"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newItemsCmd(a *app) *cobra.Command {
	var maxPages int

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List items matching a filter as CSV",
		Long: `Walk every page of the items listing once and print the items as CSV,
streaming rows as pages arrive. No watermark is applied.`,
		Example: `  itemsense items --filter "zoneNames=DOCK:presenceConfidence=HIGH"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := filter.Parse(a.cfg.Filter)
			if err != nil {
				return errors.Wrap(err, "parse --filter")
			}
			api, err := a.newClient()
			if err != nil {
				return err
			}

			cfg := pagination.DefaultConfig()
			cfg.MaxPages = maxPages
			walker := pagination.NewWalker(api, cfg)

			w := csv.NewWriter(cmd.OutOrStdout())
			if err := w.Write(model.CSVHeader); err != nil {
				return err
			}
			count := 0
			for item, err := range walker.Items(cmd.Context(), base) {
				if err != nil {
					w.Flush()
					return err
				}
				if err := w.Write(item.Record()); err != nil {
					return err
				}
				count++
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return err
			}

			log.Info().Int("items", count).Str("filter", base.Render()).Msg("Listing complete")
			return nil
		},
	}

	cmd.Flags().String("filter", "", `Listing filter, e.g. "epc=3030:zoneNames=DOCK"`)
	cmd.Flags().IntVar(&maxPages, "max-pages", pagination.DefaultConfig().MaxPages, "Stop after this many pages (0 = unlimited)")
	bindFlag(cmd.Flags(), "filter", "filter")

	return cmd
}
