// Command delivery plays a courier: it keeps its presence fresh, accepts the
// first offer it sees, drives to the customer and completes the hand-over
// with the delivery code.
package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"food-delivery/dispatch/apiclient"
	"food-delivery/dispatch/appstate"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/courier"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/simulator"
)

type options struct {
	id        string
	name      string
	mobile    string
	home      models.Point
	steps     int
	stepEvery time.Duration
	idleEvery time.Duration
	status    string
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("delivery", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringVar(&o.id, "id", "rider-1", "courier user id")
	fs.StringVar(&o.name, "name", "Rider One", "courier display name")
	fs.StringVar(&o.mobile, "mobile", "+10000000000", "courier mobile number")
	fs.Float64Var(&o.home.Lat, "lat", 40.7128, "starting latitude")
	fs.Float64Var(&o.home.Lon, "lon", -74.0060, "starting longitude")
	fs.IntVar(&o.steps, "steps", 20, "location fixes per trip")
	fs.DurationVar(&o.stepEvery, "step-every", 2*time.Second, "time between fixes while driving")
	fs.DurationVar(&o.idleEvery, "idle-every", 30*time.Second, "time between fixes while idle")
	fs.StringVar(&o.status, "status", ":4000", "status endpoint address, empty to disable")
	return o, fs.Parse(args)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logx.New(os.Stderr, "error").Error("failed to load config", logx.Err(err))
		os.Exit(1)
	}
	log := logx.New(os.Stdout, cfg.Log.Level).With(logx.String("service", "delivery"))

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Error("invalid flags", logx.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("delivery stopped", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log logx.Logger) error {
	client, err := simulator.Start(ctx, cfg.Client, apiclient.SignInRequest{
		ID:       opts.id,
		Role:     models.RoleCourier,
		FullName: opts.name,
		Mobile:   opts.mobile,
	}, log)
	if err != nil {
		return err
	}
	defer client.Close()
	log = client.Logger

	board := courier.NewBoard(client.API, client.Conn, log.With(logx.String("component", "board")))
	defer board.Close()

	r := &rider{
		api:      client.API,
		board:    board,
		streamer: courier.NewStreamer(client.API, client.Conn, client.Identity.ID, log.With(logx.String("component", "streamer"))),
		fixes:    make(chan courier.Fix),
		codes:    readCodes(os.Stdin),
		opts:     opts,
		logger:   log,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return board.Run(ctx, cfg.Client.AssignmentsInterval) })
	g.Go(func() error { return r.streamer.Run(ctx, r.fixes) })
	g.Go(func() error { return r.idle(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-client.Ended():
				return errors.New("session ended")
			case <-board.Changed():
				if cur, ok := board.Current(); ok {
					client.Store.Dispatch(appstate.CurrentLoaded{Current: &cur})
				} else {
					client.Store.Dispatch(appstate.CurrentLoaded{})
				}
				client.Store.Dispatch(appstate.StatsLoaded{Stats: board.Stats()})
				r.step(ctx)
			}
		}
	})
	if opts.status != "" {
		app := statusApp(client.Store, board, r)
		g.Go(func() error { return app.Listen(opts.status) })
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

// readCodes feeds delivery codes typed on stdin, for servers that do not
// return the code to the courier.
func readCodes(f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if code := strings.TrimSpace(sc.Text()); code != "" {
				out <- code
			}
		}
	}()
	return out
}
