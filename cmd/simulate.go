package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/facility-monitor/internal/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated event server",
	Long: `Run a local event server that:
- Accepts console connections over websocket or long-polling
- Serves a generated sensor roster at /api/sensors
- Publishes synthetic sensor events to per-sensor rooms`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("addr", ":8090", "listen address")
	simulateCmd.Flags().String("token", "", "required bearer token (empty disables auth)")
	simulateCmd.Flags().Int("sensor-count", 5, "number of simulated sensors")
	simulateCmd.Flags().Duration("interval", 2*time.Second, "interval between generated events")
	simulateCmd.Flags().Uint64("seed", 0, "random seed (0 picks one)")

	_ = viper.BindPFlag("simulate.addr", simulateCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("simulate.token", simulateCmd.Flags().Lookup("token"))
	_ = viper.BindPFlag("simulate.sensor_count", simulateCmd.Flags().Lookup("sensor-count"))
	_ = viper.BindPFlag("simulate.interval", simulateCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulate.seed", simulateCmd.Flags().Lookup("seed"))
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator")

	config := &simulator.Config{
		Logger:      logger,
		Addr:        viper.GetString("simulate.addr"),
		Token:       viper.GetString("simulate.token"),
		SensorCount: viper.GetInt("simulate.sensor_count"),
		Interval:    viper.GetDuration("simulate.interval"),
		Seed:        viper.GetUint64("simulate.seed"),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}
	return nil
}
