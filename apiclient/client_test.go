package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSignIn_KeepsToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusOK, Session{
			Token:    "tok-" + req.ID,
			Identity: models.Identity{ID: req.ID, Role: req.Role, SessionID: "s1"},
		})
	})
	mux.HandleFunc("/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-rider-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, models.Identity{ID: "rider-1"})
	})
	mux.HandleFunc("/api/v1/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newServer(t, mux)

	s, err := c.SignIn(context.Background(), SignInRequest{ID: "rider-1", Role: models.RoleCourier})
	require.NoError(t, err)
	assert.Equal(t, "s1", s.Identity.SessionID)
	assert.Equal(t, "tok-rider-1", c.Token())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rider-1", me.ID)

	require.NoError(t, c.SignOut(context.Background()))
	assert.Empty(t, c.Token())
}

func TestErrors_MapToSentinels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/delivery/assignments/a1/accept", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "assignment already accepted", Code: "ALREADY_ACCEPTED"})
	})
	mux.HandleFunc("/api/v1/delivery/assignments/a2/accept", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "courier busy", Code: "CONFLICT"})
	})
	mux.HandleFunc("/api/v1/delivery/current", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/orders/o1/shop-orders/so1/delivery-code/verify", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid delivery code", Code: "INVALID_CODE"})
	})
	c := newServer(t, mux)
	ctx := context.Background()

	_, err := c.Accept(ctx, "a1")
	assert.ErrorIs(t, err, apperr.ErrAlreadyAccepted)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	_, err = c.Accept(ctx, "a2")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NotErrorIs(t, err, apperr.ErrAlreadyAccepted)

	_, err = c.Current(ctx)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.VerifyCode(ctx, "o1", "so1", "1234")
	assert.ErrorIs(t, err, apperr.ErrInvalidCode)
}

func TestDeliveryCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/delivery/location", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 12.9, body["latitude"])
		writeJSON(w, http.StatusOK, map[string]string{"active_order_id": "o1"})
	})
	mux.HandleFunc("/api/v1/chat/ch1/read", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		writeJSON(w, http.StatusOK, map[string]int{"marked": 3})
	})
	mux.HandleFunc("/api/v1/orders/o1/shop-orders/so1/status", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, models.ShopOrder{ID: "so1", Status: models.ShopOrderStatus(body["status"])})
	})
	c := newServer(t, mux)
	ctx := context.Background()

	active, err := c.UpdateLocation(ctx, 12.9, 77.6)
	require.NoError(t, err)
	assert.Equal(t, "o1", active)

	n, err := c.MarkRead(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	so, err := c.UpdateStatus(ctx, "o1", "so1", models.StatusOutForDelivery)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutForDelivery, so.Status)
}

func TestWebsocketURL(t *testing.T) {
	u, err := WebsocketURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)

	u, err = WebsocketURL("https://api.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", u)
}
