package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	broker "github.com/tournevent/fulfillment/internal/broker/kafka"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fulfillment",
	Short:   "Shipping rates and multi-carrier shipment fulfillment service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued fulfillment commands and retry pending labels",
	RunE:  runWorker,
}

var syncCmd = &cobra.Command{
	Use:   "sync <carrier>",
	Short: "Create missing carriers, methods and default rate records from the live catalogue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

var validateCmd = &cobra.Command{
	Use:   "validate <carrier>",
	Short: "Cross-check the rate table against the live catalogue",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var transmitCmd = &cobra.Command{
	Use:   "transmit <carrier>",
	Short: "Transmit the end-of-day manifest for a carrier",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransmit,
}

var (
	validateStoreID  int64
	validateVendorID int64
)

func init() {
	validateCmd.Flags().Int64Var(&validateStoreID, "store", 0, "store scope, 0 for all stores")
	validateCmd.Flags().Int64Var(&validateVendorID, "vendor", 0, "vendor scope, 0 for all vendors")

	rootCmd.AddCommand(serveCmd, workerCmd, syncCmd, validateCmd, transmitCmd)
}

// withApp loads configuration, telemetry and the wired service, runs fn and
// tears everything down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize service", zap.Error(err))
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		a.logger.Info("Starting fulfillment service",
			zap.Int("port", a.cfg.Port),
			zap.String("version", a.cfg.Telemetry.Version),
		)
		if err := a.server().Run(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
}

func runWorker(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			retryPendingLabels(gctx, a)
			return nil
		})
		if len(a.cfg.Storage.KafkaBrokers) > 0 {
			newConsumer := func() *broker.Consumer {
				return broker.NewConsumer(a.cfg.Storage.KafkaBrokers, a.cfg.Storage.CommandsTopic, a.cfg.Storage.ConsumerGroup,
					broker.WithLogger(a.logger))
			}
			g.Go(func() error {
				consumeCommands(gctx, newConsumer, a.logger, broker.Commands(a.coordinator, a.logger))
				return nil
			})
		} else {
			a.logger.Warn("STORAGE_KAFKA_BROKERS not set, only retrying pending labels")
		}
		return g.Wait()
	})
}

// consumeCommands runs a consumer until ctx is done. After a failure the
// reader is closed and a new one joins the group, so consumption resumes
// from the last committed offset.
func consumeCommands(ctx context.Context, newConsumer func() *broker.Consumer, logger *otelzap.Logger, handler func(ctx context.Context, key, value []byte) error) {
	const maxBackoff = 30 * time.Second
	backoff := time.Second
	for {
		consumer := newConsumer()
		err := consumer.Consume(ctx, handler)
		if cerr := consumer.Close(); cerr != nil {
			logger.Warn("Failed to close command consumer", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("Command consumer stopped, restarting", zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func retryPendingLabels(ctx context.Context, a *app) {
	ticker := time.NewTicker(a.cfg.Worker.LabelRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.coordinator.RetryPendingLabels(ctx, a.cfg.Worker.LabelRetryBatch)
			if err != nil {
				a.logger.Ctx(ctx).Error("Pending label retry failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Ctx(ctx).Info("Pending labels retried", zap.Int("count", n))
			}
		}
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		c, err := a.registry.Get(args[0])
		if err != nil {
			return err
		}
		rep, err := c.SyncCatalogue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "carriers created: %d\nmethods created: %d\nrecords created: %d\nskipped: %d\n",
			rep.CarriersCreated, rep.MethodsCreated, rep.RecordsCreated, rep.Skipped)
		return nil
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		c, err := a.registry.Get(args[0])
		if err != nil {
			return err
		}
		report, mismatches, err := c.ValidateConfiguration(ctx, validateStoreID, validateVendorID)
		if err != nil {
			return err
		}
		writeValidation(cmd.OutOrStdout(), report, mismatches)
		if len(mismatches) > 0 {
			return fmt.Errorf("%s: %d configuration mismatches", c.Name(), len(mismatches))
		}
		return nil
	})
}

// writeValidation prints the summary line followed by one line per mismatch.
func writeValidation(w io.Writer, report string, mismatches []string) {
	fmt.Fprintln(w, report)
	for _, m := range mismatches {
		fmt.Fprintf(w, "  - %s\n", m)
	}
}

func runTransmit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		m, err := a.coordinator.TransmitManifests(ctx, args[0])
		if err != nil {
			return err
		}
		if m == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to transmit\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "manifest %s covering %d shipments: %s\n", m.ID, len(m.ShipmentIDs), m.URL)
		return nil
	})
}
