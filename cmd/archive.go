package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/facility-monitor/internal/archive"
	"procodus.dev/facility-monitor/pkg/eventlog"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/mq"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Tail the raw event archive",
	Long: `Consume the raw event archive queue and:
- Log every archived event
- Optionally store each event in PostgreSQL`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	archiveCmd.Flags().String("queue-name", mq.DefaultQueue, "archive queue name")
	archiveCmd.Flags().Bool("db-enabled", false, "store archived events in PostgreSQL")
	archiveCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	archiveCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	archiveCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	archiveCmd.Flags().String("db-password", "", "PostgreSQL password")
	archiveCmd.Flags().String("db-name", "facility", "PostgreSQL database name")
	archiveCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")

	_ = viper.BindPFlag("archive.rabbitmq.url", archiveCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("archive.rabbitmq.queue_name", archiveCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("archive.db.enabled", archiveCmd.Flags().Lookup("db-enabled"))
	_ = viper.BindPFlag("archive.db.host", archiveCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("archive.db.port", archiveCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("archive.db.user", archiveCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("archive.db.password", archiveCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("archive.db.name", archiveCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("archive.db.sslmode", archiveCmd.Flags().Lookup("db-sslmode"))
}

func runArchive(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting archive consumer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := viper.GetString("archive.rabbitmq.queue_name")
	client, err := mq.NewClient(&mq.Config{
		Logger:  logger,
		URL:     viper.GetString("archive.rabbitmq.url"),
		Queue:   queue,
		Durable: true,
	})
	if err != nil {
		logger.Error("failed to create queue client", "error", err)
		return err
	}
	m := metrics.NewArchiveMetrics(nil)
	client.SetMetrics(m)

	var sink eventlog.Log
	if viper.GetBool("archive.db.enabled") {
		db, err := eventlog.NewDB(&eventlog.DBConfig{
			Logger:   logger,
			Host:     viper.GetString("archive.db.host"),
			Port:     viper.GetInt("archive.db.port"),
			User:     viper.GetString("archive.db.user"),
			Password: viper.GetString("archive.db.password"),
			DBName:   viper.GetString("archive.db.name"),
			SSLMode:  viper.GetString("archive.db.sslmode"),
		})
		if err != nil {
			_ = client.Close()
			logger.Error("failed to initialize database", "error", err)
			return err
		}
		defer func() {
			if err := eventlog.CloseDB(db, logger); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()
		if sink, err = eventlog.NewGormLog(db); err != nil {
			_ = client.Close()
			return err
		}
	}

	consumer, err := archive.NewConsumer(&archive.ConsumerConfig{
		Logger: logger,
		Client: client,
		Sink:   sink,
		Queue:  queue,
	})
	if err != nil {
		_ = client.Close()
		return err
	}
	consumer.SetMetrics(m)

	if err := consumer.Start(ctx); err != nil {
		_ = client.Close()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Error("failed to start archive consumer", "error", err)
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")
	return consumer.Stop()
}
