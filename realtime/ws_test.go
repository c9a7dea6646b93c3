package realtime_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/hub"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime"
)

type allowOrders struct{}

func (allowOrders) CanView(context.Context, models.Identity, string) error { return nil }

func startServer(t *testing.T) (*hub.Hub, *auth.Issuer, string) {
	t.Helper()
	h := hub.New(logx.Nop(), 16)
	h.Bind(hub.Backends{Orders: allowOrders{}})
	issuer := auth.NewIssuer("test-secret", time.Hour)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.HTTPStatus(err))
		},
	})
	app.Use("/ws", issuer.Middleware(), h.Upgrade())
	app.Get("/ws", h.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return h, issuer, "ws://" + ln.Addr().String() + "/ws"
}

func TestWSTransport_EndToEnd(t *testing.T) {
	h, issuer, url := startServer(t)
	token, id, err := issuer.Issue(models.Identity{ID: "c7", Role: models.RoleCourier})
	require.NoError(t, err)

	m := realtime.NewManager(realtime.WSTransport{URL: url}, realtime.Config{ReconnectDelay: 10 * time.Millisecond}, logx.Nop())
	t.Cleanup(m.Disconnect)

	ended := make(chan error, 1)
	m.OnTerminated(func(err error) { ended <- err })
	assigned := make(chan models.AssignmentEvent, 1)
	m.Subscriber("board").On(models.EventNewDeliveryAssignment, func(env models.Envelope) {
		var ev models.AssignmentEvent
		if env.Decode(&ev) == nil {
			assigned <- ev
		}
	})

	require.NoError(t, m.Connect(context.Background(), id, token))
	require.Eventually(t, func() bool { return h.Members(models.CourierRoom("c7")) == 1 }, 2*time.Second, 5*time.Millisecond)

	m.JoinRoom(models.OrderRoom("o1"))
	require.Eventually(t, func() bool { return h.Members(models.OrderRoom("o1")) == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Emit(models.EventNewDeliveryAssignment, models.AssignmentEvent{AssignmentID: "a1"}, models.CourierRoom("c7"))
	select {
	case ev := <-assigned:
		assert.Equal(t, "a1", ev.AssignmentID)
	case <-time.After(2 * time.Second):
		t.Fatal("assignment not received")
	}

	h.CloseSession(id.SessionID)
	select {
	case err := <-ended:
		assert.ErrorIs(t, err, realtime.ErrSignedOut)
	case <-time.After(2 * time.Second):
		t.Fatal("sign out not reported")
	}
	assert.False(t, m.Connected())
}

func TestWSTransport_RejectsBadToken(t *testing.T) {
	_, _, url := startServer(t)

	_, err := realtime.WSTransport{URL: url}.Dial(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
