package cli

import (
	"github.com/spf13/cobra"

	"vol-funding-engine/internal/app"
)

var (
	simulateRounds   int
	simulateInterval int64
	simulatePrice    int64
	simulateStep     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the engine against a synthetic oracle price walk",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Rounds:          simulateRounds,
			IntervalSeconds: simulateInterval,
			StartPrice:      simulatePrice,
			PriceStep:       simulateStep,
		})
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateRounds, "rounds", 24, "Number of triggers to simulate")
	simulateCmd.Flags().Int64Var(&simulateInterval, "interval", 3600, "Seconds between triggers")
	simulateCmd.Flags().Int64Var(&simulatePrice, "price", 8500, "Starting index value")
	simulateCmd.Flags().Int64Var(&simulateStep, "step", 50, "Index change per round")
}
