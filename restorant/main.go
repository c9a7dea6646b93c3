// Command restorant plays a shop owner: it watches incoming orders and walks
// each shop order from pending to out_for_delivery, either over REST or, when
// RabbitMQ is configured, through the updates queue.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"food-delivery/dispatch/apiclient"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/queue"
	"food-delivery/dispatch/simulator"
	"food-delivery/dispatch/tracking"
)

type options struct {
	id       string
	name     string
	prepTime time.Duration
	health   string
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("restorant", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringVar(&o.id, "id", "owner-1", "owner user id")
	fs.StringVar(&o.name, "name", "Shop Owner", "owner display name")
	fs.DurationVar(&o.prepTime, "prep", 10*time.Second, "time spent preparing an order")
	fs.StringVar(&o.health, "health", ":3000", "health endpoint address, empty to disable")
	return o, fs.Parse(args)
}

// statusSink moves one shop order forward.
type statusSink interface {
	Advance(ctx context.Context, so models.ShopOrder, orderID string, next models.ShopOrderStatus) error
}

type restSink struct{ api *apiclient.Client }

func (s restSink) Advance(ctx context.Context, so models.ShopOrder, orderID string, next models.ShopOrderStatus) error {
	_, err := s.api.UpdateStatus(ctx, orderID, so.ID, next)
	return err
}

type queueSink struct{ pub *queue.Publisher }

func (s queueSink) Advance(ctx context.Context, so models.ShopOrder, orderID string, next models.ShopOrderStatus) error {
	return s.pub.PublishStatusUpdate(ctx, queue.StatusUpdate{
		OrderID:     orderID,
		ShopOrderID: so.ID,
		Status:      next,
		OwnerID:     so.OwnerID,
	})
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logx.New(os.Stderr, "error").Error("failed to load config", logx.Err(err))
		os.Exit(1)
	}
	log := logx.New(os.Stdout, cfg.Log.Level).With(logx.String("service", "restaurant"))

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Error("invalid flags", logx.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("restaurant stopped", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log logx.Logger) error {
	client, err := simulator.Start(ctx, cfg.Client, apiclient.SignInRequest{
		ID:       opts.id,
		Role:     models.RoleOwner,
		FullName: opts.name,
	}, log)
	if err != nil {
		return err
	}
	defer client.Close()
	log = client.Logger

	var sink statusSink = restSink{api: client.API}
	if cfg.RabbitMQ.URL != "" {
		conn, err := queue.Dial(ctx, cfg.RabbitMQ.URL, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		pub, ch, err := queue.NewPublisher(conn, cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.UpdatesQueue)
		if err != nil {
			return err
		}
		defer ch.Close()
		sink = queueSink{pub: pub}
		log.Info("publishing status updates", logx.String("queue", cfg.RabbitMQ.UpdatesQueue))
	}

	feed := tracking.NewFeed(client.API, client.Conn, log.With(logx.String("component", "feed")))
	defer feed.Close()

	toasts := client.Conn.Subscriber("restaurant-toasts")
	defer toasts.Close()
	toasts.On(models.EventNewOrder, func(env models.Envelope) {
		var ev models.NewOrderEvent
		if err := env.Decode(&ev); err != nil {
			return
		}
		log.Info("new order",
			logx.String("order_id", ev.OrderID),
			logx.String("customer", ev.CustomerName),
			logx.Int("items", ev.ItemCount),
			logx.Float64("subtotal", ev.Subtotal),
		)
	})

	k := &kitchen{
		ownerID:  client.Identity.ID,
		sink:     sink,
		prepTime: opts.prepTime,
		busy:     make(map[string]bool),
		after:    feed.Refresh,
		logger:   log,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(ctx, cfg.Client.OrdersInterval) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-client.Ended():
				return errors.New("session ended")
			case <-feed.Changed():
				list, err := feed.Orders()
				if err != nil {
					continue
				}
				k.review(ctx, list)
			}
		}
	})
	if opts.health != "" {
		app := healthApp(feed, k)
		g.Go(func() error { return app.Listen(opts.health) })
		g.Go(func() error {
			<-ctx.Done()
			return app.Shutdown()
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// kitchen advances this owner's shop orders, one goroutine per shop order in
// progress.
type kitchen struct {
	ownerID  string
	sink     statusSink
	prepTime time.Duration
	// after runs once a transition was accepted.
	after  func(ctx context.Context)
	logger logx.Logger

	mu       sync.Mutex
	busy     map[string]bool
	advanced int
}

func (k *kitchen) review(ctx context.Context, list []models.Order) {
	for _, o := range list {
		for _, so := range o.ShopOrders {
			if so.OwnerID != k.ownerID {
				continue
			}
			var next models.ShopOrderStatus
			switch so.Status {
			case models.StatusPending:
				next = models.StatusPreparing
			case models.StatusPreparing:
				next = models.StatusOutForDelivery
			default:
				continue
			}
			if !k.claim(so.ID) {
				continue
			}
			go k.advance(ctx, o.ID, so, next)
		}
	}
}

func (k *kitchen) claim(shopOrderID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.busy[shopOrderID] {
		return false
	}
	k.busy[shopOrderID] = true
	return true
}

func (k *kitchen) advance(ctx context.Context, orderID string, so models.ShopOrder, next models.ShopOrderStatus) {
	ok := k.move(ctx, orderID, so, next)

	k.mu.Lock()
	delete(k.busy, so.ID)
	if ok {
		k.advanced++
	}
	k.mu.Unlock()

	if ok && k.after != nil {
		k.after(ctx)
	}
}

func (k *kitchen) move(ctx context.Context, orderID string, so models.ShopOrder, next models.ShopOrderStatus) bool {
	if next == models.StatusOutForDelivery {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(k.prepTime):
		}
	}
	if err := k.sink.Advance(ctx, so, orderID, next); err != nil {
		k.logger.Warn("status update failed",
			logx.String("shop_order_id", so.ID),
			logx.String("status", string(next)),
			logx.Err(err),
		)
		return false
	}
	k.logger.Info("shop order advanced", logx.String("shop_order_id", so.ID), logx.String("status", string(next)))
	return true
}

func (k *kitchen) inProgress() (int, int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.busy), k.advanced
}
