package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/alert"
	"github.com/kiwari-pos/console/internal/auth"
	"github.com/kiwari-pos/console/internal/broker"
	"github.com/kiwari-pos/console/internal/config"
	"github.com/kiwari-pos/console/internal/console"
	"github.com/kiwari-pos/console/internal/enum"
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/kiwari-pos/console/internal/router"
	"github.com/kiwari-pos/console/internal/service"
	"github.com/kiwari-pos/console/internal/ws"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console backend",
	Long: `Serve the console HTTP API and WebSocket feed:
- order edit sessions backed by the back-office API
- new-order polling with sound, notification and banner alerts
- optional fan-out of detected orders to RabbitMQ (RABBITMQ_URL)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	middleware.DefaultLogger = middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true})

	api := orderapi.New(cfg.APIBaseURL,
		orderapi.WithTimeout(cfg.RequestTimeout),
		orderapi.WithLogger(log),
	)
	pollAPI, err := servicePollClient(cfg, api)
	if err != nil {
		return err
	}

	hub := ws.NewHub(log)

	// The poller is built after the channels that need presence; presence
	// only reports changes once views connect, which is after Start.
	var poller *alert.Poller
	presence := console.NewPresence(func(visible bool) {
		if poller != nil {
			poller.SetVisible(visible)
		}
	})
	sound := console.NewSound(hub, log)

	opts := []alert.Option{
		alert.WithSound(sound),
		alert.WithNotifier(console.NewNotifier(hub, presence, log)),
		alert.WithBanner(console.NewBanner(hub, log)),
		alert.WithReloader(console.NewReloader(hub, log)),
		alert.WithLogger(log),
	}
	if cfg.RabbitMQURL != "" {
		conn, err := broker.Connect(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()
		opts = append(opts, alert.WithPublisher(broker.NewPublisher(conn)))
		log.WithField("exchange", broker.Exchange).Info("publishing order alerts to rabbitmq")
	}
	poller = alert.NewPoller(pollAPI, pollerConfig(cfg), opts...)
	// No view is connected yet.
	poller.SetVisible(false)

	hub.OnConnect(func(c *ws.Client) {
		presence.Join(c.ID())
		if a, ok := poller.Current(); ok {
			sendEvent(hub, c, log, ws.EventNewOrder, a)
		}
		sendEvent(hub, c, log, ws.EventAlertSound, sound.State())
	})
	hub.OnMessage(func(c *ws.Client, e ws.Event) {
		if err := presence.Handle(c.ID(), e); err != nil {
			log.WithError(err).WithField("client_id", c.ID()).Debug("ignore console message")
		}
	})
	hub.OnDisconnect(func(c *ws.Client) {
		presence.Leave(c.ID())
	})

	store := orderapi.StoreInfo{
		Name:    cfg.Store.Name,
		Email:   cfg.Store.Email,
		Phone:   cfg.Store.Phone,
		Address: cfg.Store.Address,
	}
	sessions := service.NewSessionManager(func(id uuid.UUID, token string) *service.OrderSession {
		return service.NewOrderSession(api.WithToken(orderapi.StaticToken(token)),
			service.WithSessionID(id),
			service.WithFeedback(console.NewSessionFeedback(hub, id, log)),
			service.WithStoreInfo(store),
			service.WithSessionLogger(log),
		)
	})

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(cfg, router.Deps{
			Hub:      hub,
			Sessions: sessions,
			Alerts:   poller,
			Sound:    sound,
			Log:      log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		sweepSessions(ctx, sessions, cfg.SessionIdleTTL, log)
		return nil
	})
	poller.Start(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("console listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down console")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		poller.Stop()
		sessions.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// servicePollClient returns a client that authenticates as the console's
// service user, independent of any logged-in view.
func servicePollClient(cfg *config.Config, api *orderapi.Client) (*orderapi.Client, error) {
	userID, err := uuid.Parse(cfg.Poll.ServiceUser)
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_SERVICE_USER %q: %w", cfg.Poll.ServiceUser, err)
	}
	tokens := auth.NewServiceTokenSource(cfg.JWTSecret, userID, enum.RoleService, auth.DefaultTTL)
	return api.WithToken(tokens), nil
}

func pollerConfig(cfg *config.Config) alert.Config {
	return alert.Config{
		ActiveInterval: cfg.Poll.ActiveInterval,
		HiddenInterval: cfg.Poll.HiddenInterval,
		MaxBackoff:     cfg.Poll.MaxBackoff,
		Timeout:        cfg.Poll.Timeout,
		ReloadDelay:    cfg.Poll.ReloadDelay,
	}
}

func sendEvent(hub *ws.Hub, c *ws.Client, log logrus.FieldLogger, eventType string, payload any) {
	ev, err := ws.NewEvent(eventType, payload)
	if err != nil {
		log.WithError(err).Error("failed to build websocket event")
		return
	}
	hub.SendTo(c, ev)
}

// sweepSessions closes sessions nobody touched for maxIdle, until ctx ends.
func sweepSessions(ctx context.Context, sessions *service.SessionManager, maxIdle time.Duration, log logrus.FieldLogger) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(maxIdle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(maxIdle); n > 0 {
				log.WithField("closed", n).Info("closed idle order sessions")
			}
		}
	}
}
