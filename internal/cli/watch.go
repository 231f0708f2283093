package cli

import (
	"fmt"

	"github.com/kiwari-pos/console/internal/alert"
	"github.com/kiwari-pos/console/internal/broker"
	"github.com/kiwari-pos/console/internal/console"
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/spf13/cobra"
)

var (
	watchSinceID int64
	watchOnce    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow new orders from the terminal",
	Long: `Poll the back-office API for new orders and log each one.
Uses the same service credentials, intervals and backoff as "serve" and
publishes to RabbitMQ when RABBITMQ_URL is set.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Int64Var(&watchSinceID, "since-id", 0, "only report orders newer than this id")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "check once and exit")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	api := orderapi.New(cfg.APIBaseURL, orderapi.WithLogger(log))
	pollAPI, err := servicePollClient(cfg, api)
	if err != nil {
		return err
	}

	channels := console.NewLogChannels(log)
	opts := []alert.Option{
		alert.WithSound(channels),
		alert.WithNotifier(channels),
		alert.WithBanner(channels.Banner()),
		alert.WithReloader(channels),
		alert.WithLogger(log),
		alert.WithLastSeen(watchSinceID),
	}
	if cfg.RabbitMQURL != "" {
		conn, err := broker.Connect(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()
		opts = append(opts, alert.WithPublisher(broker.NewPublisher(conn)))
	}
	poller := alert.NewPoller(pollAPI, pollerConfig(cfg), opts...)

	if watchOnce {
		a, err := poller.Poll(cmd.Context())
		if err != nil {
			return err
		}
		if a == nil {
			log.WithField("since_id", watchSinceID).Info("no new orders")
		}
		return nil
	}

	poller.Start(cmd.Context())
	<-cmd.Context().Done()
	poller.Stop()
	return nil
}
