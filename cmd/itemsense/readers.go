package main

import (
	"encoding/json"
	"strings"

	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newReadersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readers",
		Short: "Manage reader definitions",
	}
	cmd.AddCommand(newReadersCreateCmd(a))
	return cmd
}

func newReadersCreateCmd(a *app) *cobra.Command {
	var (
		def        model.ReaderDefinition
		readerType string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a reader definition",
		Example: `  itemsense readers create --name xarray-1 --address 10.0.0.5 --type XARRAY --facility HQ --x 1.5 --y 2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def.Type = model.ReaderType(strings.ToUpper(readerType))
			switch def.Type {
			case model.ReaderTypeXArray, model.ReaderTypeXSpan, model.ReaderTypeSpeedwayR4:
			default:
				return errors.Errorf("unknown reader type %q (want XARRAY, XSPAN or SPEEDWAY)", readerType)
			}

			api, err := a.newClient()
			if err != nil {
				return err
			}
			created, err := api.CreateReaderDefinition(cmd.Context(), def)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(created)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&def.Name, "name", "", "Reader name")
	fs.StringVar(&def.Address, "address", "", "Reader host or IP address")
	fs.StringVar(&readerType, "type", string(model.ReaderTypeXArray), "Reader type: XARRAY, XSPAN or SPEEDWAY")
	fs.StringVar(&def.Facility, "facility", "DEFAULT", "Facility the reader belongs to")
	fs.StringVar(&def.ReaderZone, "zone", "", "Reader zone (default: the reader name)")
	fs.Float64Var(&def.Placement.X, "x", 0, "X position in meters")
	fs.Float64Var(&def.Placement.Y, "y", 0, "Y position in meters")
	fs.Float64Var(&def.Placement.Z, "z", 0, "Z position in meters")
	fs.Float64Var(&def.Placement.Yaw, "yaw", 0, "Yaw in degrees")
	fs.Float64Var(&def.Placement.Pitch, "pitch", 0, "Pitch in degrees")
	fs.Float64Var(&def.Placement.Roll, "roll", 0, "Roll in degrees")
	fs.StringVar(&def.Placement.Floor, "floor", "", "Floor name")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("address")

	cmd.PreRunE = func(*cobra.Command, []string) error {
		if def.ReaderZone == "" {
			def.ReaderZone = def.Name
		}
		return nil
	}

	return cmd
}
