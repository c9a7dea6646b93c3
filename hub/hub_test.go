package hub

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

type fakeOrders struct{}

func (fakeOrders) CanView(_ context.Context, id models.Identity, orderID string) error {
	if orderID == "o1" && (id.ID == "cust" || id.ID == "cour") {
		return nil
	}
	return apperr.ErrForbidden
}

type fakeChats struct{}

func (fakeChats) CanJoin(_ context.Context, id models.Identity, chatID string) error {
	if chatID == "ch1" && (id.ID == "cust" || id.ID == "cour") {
		return nil
	}
	return apperr.ErrForbidden
}

type fakeLocation struct {
	mu      sync.Mutex
	samples []models.UpdateLocationPayload
	online  map[string]bool
}

func (f *fakeLocation) Ingest(_ context.Context, _ models.Identity, p models.UpdateLocationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, p)
	return nil
}

func (f *fakeLocation) SetOnline(_ context.Context, id models.Identity, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id.ID] = online
	return nil
}

func (f *fakeLocation) isOnline(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

func (f *fakeLocation) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

type testServer struct {
	hub      *Hub
	issuer   *auth.Issuer
	location *fakeLocation
	url      string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	iss := auth.NewIssuer("hub-test-secret", time.Hour)
	loc := &fakeLocation{online: make(map[string]bool)}
	h := New(logx.Nop(), 8)
	h.Bind(Backends{Orders: fakeOrders{}, Chats: fakeChats{}, Location: loc})

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.SendStatus(e.Code)
			}
			return c.SendStatus(apperr.HTTPStatus(err))
		},
	})
	app.Use("/ws", iss.Middleware(), h.Upgrade())
	app.Get("/ws", h.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return &testServer{hub: h, issuer: iss, location: loc, url: "ws://" + ln.Addr().String() + "/ws"}
}

func (s *testServer) token(t *testing.T, id models.Identity) (string, models.Identity) {
	t.Helper()
	token, id, err := s.issuer.Issue(id)
	require.NoError(t, err)
	return token, id
}

func (s *testServer) dial(t *testing.T, token string) *gws.Conn {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(s.url, http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *gws.Conn, event string, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func next(t *testing.T, conn *gws.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func (s *testServer) joined(t *testing.T, conn *gws.Conn, room models.Room, want int) {
	t.Helper()
	send(t, conn, room.JoinEvent(), models.JoinPayload{ID: room.ID})
	require.Eventually(t, func() bool { return s.hub.Members(room) == want }, 3*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsMissingToken(t *testing.T) {
	s := startServer(t)
	_, resp, err := gws.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_EmitReachesEachConnectionOnce(t *testing.T) {
	s := startServer(t)
	token, _ := s.token(t, models.Identity{ID: "cust", Role: models.RoleCustomer})
	conn := s.dial(t, token)

	s.joined(t, conn, models.UserRoom("cust"), 1)
	s.joined(t, conn, models.OrderRoom("o1"), 1)

	s.hub.Emit(models.EventOrderStatusUpdated, models.OrderEvent{OrderID: "o1"},
		models.UserRoom("cust"), models.OrderRoom("o1"))
	s.hub.Emit("marker", nil, models.UserRoom("cust"))

	env := next(t, conn)
	require.Equal(t, models.EventOrderStatusUpdated, env.Event)
	var ev models.OrderEvent
	require.NoError(t, env.Decode(&ev))
	require.Equal(t, "o1", ev.OrderID)
	require.Equal(t, "marker", next(t, conn).Event)

	send(t, conn, models.EventLeaveOrder, models.JoinPayload{ID: "o1"})
	require.Eventually(t, func() bool { return s.hub.Members(models.OrderRoom("o1")) == 0 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, s.hub.Members(models.UserRoom("cust")))
}

func TestHub_RejectsUnauthorizedJoins(t *testing.T) {
	s := startServer(t)
	token, _ := s.token(t, models.Identity{ID: "cust", Role: models.RoleCustomer})
	conn := s.dial(t, token)

	for _, tc := range []struct {
		event string
		id    string
	}{
		{models.EventJoinOrder, "o2"},
		{models.EventJoin, "someone-else"},
		{models.EventJoinDeliveryBoy, "cust"},
		{models.EventJoinChat, "ch9"},
	} {
		send(t, conn, tc.event, models.JoinPayload{ID: tc.id})
		env := next(t, conn)
		require.Equal(t, models.EventError, env.Event)
		var e models.ErrorEvent
		require.NoError(t, env.Decode(&e))
		require.Equal(t, tc.event, e.Event)
	}
	require.Zero(t, s.hub.Members(models.OrderRoom("o2")))
	require.Zero(t, s.hub.Members(models.CourierRoom("cust")))
}

func TestHub_NewConnectionSupersedesSession(t *testing.T) {
	s := startServer(t)
	token, _ := s.token(t, models.Identity{ID: "cust", Role: models.RoleCustomer})

	first := s.dial(t, token)
	s.joined(t, first, models.UserRoom("cust"), 1)

	second := s.dial(t, token)
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := first.ReadMessage()
	require.True(t, gws.IsCloseError(err, closeSuperseded), "got %v", err)

	s.joined(t, second, models.UserRoom("cust"), 1)
	s.hub.Emit("ping-test", nil, models.UserRoom("cust"))
	require.Equal(t, "ping-test", next(t, second).Event)
	require.True(t, s.hub.Online("cust"))
}

func TestHub_CloseSessionOnSignOut(t *testing.T) {
	s := startServer(t)
	token, id := s.token(t, models.Identity{ID: "cust", Role: models.RoleCustomer})
	conn := s.dial(t, token)
	s.joined(t, conn, models.UserRoom("cust"), 1)

	s.hub.CloseSession(id.SessionID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, gws.IsCloseError(err, closeSignedOut), "got %v", err)
	require.Eventually(t, func() bool { return !s.hub.Online("cust") }, 3*time.Second, 10*time.Millisecond)
	require.Zero(t, s.hub.Members(models.UserRoom("cust")))
}

func TestHub_TypingRelayExcludesSender(t *testing.T) {
	s := startServer(t)
	custToken, _ := s.token(t, models.Identity{ID: "cust", Role: models.RoleCustomer})
	courToken, _ := s.token(t, models.Identity{ID: "cour", Role: models.RoleCourier})
	cust := s.dial(t, custToken)
	cour := s.dial(t, courToken)

	s.joined(t, cust, models.ChatRoom("ch1"), 1)
	s.joined(t, cour, models.ChatRoom("ch1"), 2)

	send(t, cust, models.EventTyping, models.TypingPayload{ChatID: "ch1", UserID: "spoofed", IsTyping: true})

	env := next(t, cour)
	require.Equal(t, models.EventUserTyping, env.Event)
	var p models.TypingPayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, "cust", p.UserID)
	require.True(t, p.IsTyping)

	s.hub.Emit("marker", nil, models.ChatRoom("ch1"))
	require.Equal(t, "marker", next(t, cust).Event)
}

func TestHub_LocationAndPresence(t *testing.T) {
	s := startServer(t)
	courToken, _ := s.token(t, models.Identity{ID: "cour", Role: models.RoleCourier})
	custToken, _ := s.token(t, models.Identity{ID: "cust", Role: models.RoleCustomer})

	cour := s.dial(t, courToken)
	require.Eventually(t, func() bool { return s.location.isOnline("cour") }, 3*time.Second, 10*time.Millisecond)

	send(t, cour, models.EventUpdateLocation, models.UpdateLocationPayload{OrderID: "o1", CourierID: "cour", Latitude: 12.9, Longitude: 77.6})
	require.Eventually(t, func() bool { return s.location.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	cust := s.dial(t, custToken)
	send(t, cust, models.EventUpdateLocation, models.UpdateLocationPayload{OrderID: "o1"})
	require.Equal(t, models.EventError, next(t, cust).Event)
	require.Equal(t, 1, s.location.count())

	require.NoError(t, cour.Close())
	require.Eventually(t, func() bool { return !s.location.isOnline("cour") }, 3*time.Second, 10*time.Millisecond)
}

func TestClient_EnqueueDropsWhenFull(t *testing.T) {
	c := newClient(models.Identity{ID: "u"}, nil, 2)
	require.True(t, c.enqueue([]byte("1")))
	require.True(t, c.enqueue([]byte("2")))
	require.False(t, c.enqueue([]byte("3")))

	c.shutdown(closeSignedOut, "")
	<-c.send
	require.False(t, c.enqueue([]byte("4")))
}
