// Package simulator bootstraps the client binaries: REST client, realtime
// connection and application state, bound to one signed in identity.
package simulator

import (
	"context"
	"sync"
	"time"

	"food-delivery/dispatch/apiclient"
	"food-delivery/dispatch/appstate"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime"
)

const logoutTimeout = 5 * time.Second

type Client struct {
	API      *apiclient.Client
	Conn     *realtime.Manager
	Store    *appstate.Store
	Session  *appstate.Session
	Identity models.Identity
	Logger   logx.Logger

	ended chan struct{}
}

// Start signs in and opens the realtime connection.
func Start(ctx context.Context, cfg config.ClientConfig, req apiclient.SignInRequest, logger logx.Logger) (*Client, error) {
	wsURL, err := apiclient.WebsocketURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	api := apiclient.New(cfg.ServerURL, nil)
	conn := realtime.NewManager(realtime.WSTransport{URL: wsURL}, realtime.Config{
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
	}, logger.With(logx.String("component", "realtime")))
	store := appstate.NewStore()

	c := &Client{
		API:     api,
		Conn:    conn,
		Store:   store,
		Session: appstate.NewSession(api, conn, store, logger),
		Logger:  logger,
		ended:   make(chan struct{}),
	}

	id, err := c.Session.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	c.Identity = id
	c.Logger = logger.With(logx.String("user_id", id.ID))

	var once sync.Once
	store.Subscribe(func(s appstate.State) {
		if !s.SignedIn() {
			once.Do(func() { close(c.ended) })
		}
	})
	return c, nil
}

// Ended is closed once the session is gone, by logout or by the server.
func (c *Client) Ended() <-chan struct{} {
	return c.ended
}

func (c *Client) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := c.Session.Logout(ctx); err != nil {
		c.Logger.Warn("logout failed", logx.Err(err))
	}
}
