package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/chat"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/dispatch"
	"food-delivery/dispatch/eventlog"
	"food-delivery/dispatch/handlers"
	"food-delivery/dispatch/hub"
	"food-delivery/dispatch/location"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/orders"
	"food-delivery/dispatch/queue"
	"food-delivery/dispatch/store"
)

const (
	presenceSweepInterval = time.Minute
	presenceMaxAge        = 5 * time.Minute
	shutdownTimeout       = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logx.New(os.Stderr, "error").Error("failed to load config", logx.Err(err))
		os.Exit(1)
	}
	log := logx.New(os.Stdout, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	state, closeState, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeState()

	events := eventlog.Nop()
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := eventlog.Dial(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		events = eventlog.NewKafka(producer, cfg.Kafka.Topic, log.With(logx.String("component", "eventlog")))
	}
	defer events.Close()

	var (
		publisher dispatch.Publisher = queue.NopPublisher{}
		amqpConn  *amqp.Connection
	)
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err = queue.Dial(ctx, cfg.RabbitMQ.URL, log)
		if err != nil {
			return err
		}
		defer amqpConn.Close()

		pub, ch, err := queue.NewPublisher(amqpConn, cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.DeliveryQueue)
		if err != nil {
			return err
		}
		defer ch.Close()
		publisher = pub
	}

	h := hub.New(log.With(logx.String("component", "hub")), cfg.Server.SendBuffer)
	issuer := auth.NewIssuer(cfg.JWT.SecretKey, cfg.JWT.TTL)
	orderStore := store.NewOrders()

	resolver := dispatch.NewResolver(state.Ledger, state.Presence, h, events, publisher, cfg.Dispatch,
		log.With(logx.String("component", "dispatch")))
	locations := location.NewService(state.Presence, h, log.With(logx.String("component", "location")))
	orderSvc := orders.NewService(orders.Deps{
		Orders:     orderStore,
		Codes:      state.Codes,
		Presence:   state.Presence,
		Dispatcher: resolver,
		Locations:  locations,
		Emitter:    h,
		Events:     events,
		CodeSender: orders.LogCodeSender{Logger: log.With(logx.String("component", "codes"))},
		Logger:     log.With(logx.String("component", "orders")),
	}, cfg.Delivery)
	resolver.Observe(orderSvc)
	chats := chat.NewService(store.NewChats(), orderStore, h, log.With(logx.String("component", "chat")))
	h.Bind(hub.Backends{Orders: orderSvc, Chats: chats, Location: locations})

	app := handlers.New(handlers.Deps{
		Issuer:   issuer,
		Realtime: h,
		Orders:   orderSvc,
		Chats:    chats,
		Location: locations,
		Logger:   log,
	}, cfg.Server, cfg.Delivery)

	var consumer *queue.Consumer
	if amqpConn != nil {
		var ch *amqp.Channel
		consumer, ch, err = queue.NewConsumer(amqpConn, cfg.RabbitMQ.UpdatesQueue, orderSvc,
			log.With(logx.String("component", "queue")))
		if err != nil {
			return err
		}
		defer ch.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", logx.String("port", cfg.Server.Port), logx.String("store", cfg.Store.Backend))
		return app.Listen(":" + cfg.Server.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error { return resolver.Run(ctx) })
	g.Go(func() error { return locations.Run(ctx, presenceSweepInterval, presenceMaxAge, h.Online) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
