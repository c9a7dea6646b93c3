// Command customer places one order, follows it on the live view and greets
// each courier in the order chat until every shop order is delivered.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"food-delivery/dispatch/apiclient"
	"food-delivery/dispatch/appstate"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"
	"food-delivery/dispatch/simulator"
	"food-delivery/dispatch/tracking"
)

type options struct {
	id       string
	name     string
	shopID   string
	shopName string
	ownerID  string
	address  models.Address
	item     models.OrderItem
	greeting string
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("customer", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringVar(&o.id, "id", "customer-1", "customer user id")
	fs.StringVar(&o.name, "name", "Test Customer", "customer display name")
	fs.StringVar(&o.shopID, "shop", "shop-1", "shop to order from")
	fs.StringVar(&o.shopName, "shop-name", "Test Kitchen", "shop display name")
	fs.StringVar(&o.ownerID, "owner", "owner-1", "owner of the shop")
	fs.StringVar(&o.address.Text, "address", "Test Street 1", "delivery address")
	fs.Float64Var(&o.address.Latitude, "lat", 40.7200, "delivery latitude")
	fs.Float64Var(&o.address.Longitude, "lon", -74.0000, "delivery longitude")
	fs.StringVar(&o.item.Name, "item", "Plov", "item to order")
	fs.IntVar(&o.item.Quantity, "qty", 2, "item quantity")
	fs.Float64Var(&o.item.Price, "price", 10.5, "item unit price")
	fs.StringVar(&o.greeting, "greeting", "Hi! Please call when you arrive.", "first chat message to the courier")
	return o, fs.Parse(args)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logx.New(os.Stderr, "error").Error("failed to load config", logx.Err(err))
		os.Exit(1)
	}
	log := logx.New(os.Stdout, cfg.Log.Level).With(logx.String("service", "customer"))

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Error("invalid flags", logx.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("customer stopped", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log logx.Logger) error {
	client, err := simulator.Start(ctx, cfg.Client, apiclient.SignInRequest{
		ID:       opts.id,
		Role:     models.RoleCustomer,
		FullName: opts.name,
	}, log)
	if err != nil {
		return err
	}
	defer client.Close()
	log = client.Logger

	order, err := client.API.PlaceOrder(ctx, orders.PlaceOrderRequest{
		DeliveryAddress: opts.address,
		PaymentMethod:   "cod",
		ShopOrders: []orders.ShopOrderRequest{{
			ShopID:   opts.shopID,
			ShopName: opts.shopName,
			OwnerID:  opts.ownerID,
			Items:    []models.OrderItem{opts.item},
		}},
	})
	if err != nil {
		return err
	}
	log = log.With(logx.String("order_id", order.ID))
	log.Info("order placed", logx.Float64("total", order.TotalAmount))

	feed := tracking.NewFeed(client.API, client.Conn, log.With(logx.String("component", "feed")))
	defer feed.Close()
	tracker := tracking.Open(order.ID, client.API, client.Conn, log.With(logx.String("component", "tracker")))
	defer tracker.Close()

	w := newWatcher(client, opts.greeting, log)
	defer w.Close()

	ctx, done := context.WithCancel(ctx)
	defer done()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(ctx, cfg.Client.OrdersInterval) })
	g.Go(func() error { return tracker.Run(ctx, tracking.OrderTrackingInterval) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-client.Ended():
				return errors.New("session ended")
			case <-feed.Changed():
				if list, err := feed.Orders(); err == nil {
					client.Store.Dispatch(appstate.OrdersLoaded{Orders: list})
				}
			case <-tracker.Changed():
				if w.Render(ctx, tracker.View()) {
					log.Info("order delivered")
					done()
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
