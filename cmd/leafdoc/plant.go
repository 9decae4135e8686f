// cmd/leafdoc/plant.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/leafdoc/internal/protocol"
)

var plantCmd = &cobra.Command{
	Use:   "plant",
	Short: "Manage plant records",
}

var plantAddFlags struct {
	name         string
	light        string
	water        string
	humidity     string
	temperature  string
	instructions string
}

var plantAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a plant",
	Long:  "Add a plant. Care fields left unset use the default schedule for common houseplants.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		care := protocol.DefaultCareSchedule()
		f := plantAddFlags
		for _, o := range []struct {
			dst *string
			val string
		}{
			{&care.Light, f.light},
			{&care.Water, f.water},
			{&care.Humidity, f.humidity},
			{&care.Temperature, f.temperature},
			{&care.Instructions, f.instructions},
		} {
			if o.val != "" {
				*o.dst = o.val
			}
		}

		plant, err := a.plants.Add(cmd.Context(), f.name, care)
		if err != nil {
			return err
		}
		return a.printer.Plant(plant)
	},
}

var plantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		plants, err := a.plants.List(cmd.Context())
		if err != nil {
			return err
		}
		return a.printer.Plants(plants)
	},
}

var plantShowCmd = &cobra.Command{
	Use:   "show PLANT_ID",
	Short: "Show a plant and its care schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		plant, err := a.plants.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("plant %s: %w", args[0], err)
		}
		return a.printer.Plant(plant)
	},
}

var plantDeleteCmd = &cobra.Command{
	Use:   "delete PLANT_ID",
	Short: "Delete a plant; its diagnosis history is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.plants.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("plant %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted plant %s\n", args[0])
		return nil
	},
}

func init() {
	f := plantAddCmd.Flags()
	f.StringVar(&plantAddFlags.name, "name", "", "plant name (required)")
	f.StringVar(&plantAddFlags.light, "light", "", "light requirements")
	f.StringVar(&plantAddFlags.water, "water", "", "watering schedule")
	f.StringVar(&plantAddFlags.humidity, "humidity", "", "humidity range")
	f.StringVar(&plantAddFlags.temperature, "temperature", "", "temperature range")
	f.StringVar(&plantAddFlags.instructions, "instructions", "", "extra care instructions")
	_ = plantAddCmd.MarkFlagRequired("name")

	plantCmd.AddCommand(plantAddCmd, plantListCmd, plantShowCmd, plantDeleteCmd)
}
