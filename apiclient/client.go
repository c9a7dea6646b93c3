// Package apiclient calls the dispatch REST API. Error bodies are turned back
// into apperr sentinels so callers can branch with errors.Is.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/") + "/api/v1", http: hc}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// WebsocketURL is the realtime endpoint that belongs to baseURL.
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Error is a non-2xx answer. It unwraps to the sentinel named by Code.
type Error struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{
			Status:  resp.StatusCode,
			Code:    eb.Code,
			Message: eb.Error,
			err:     apperr.FromCode(eb.Code, resp.StatusCode),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type SignInRequest struct {
	ID       string      `json:"id"`
	Role     models.Role `json:"role"`
	FullName string      `json:"full_name,omitempty"`
	Mobile   string      `json:"mobile,omitempty"`
}

type Session struct {
	Token    string          `json:"token"`
	Identity models.Identity `json:"identity"`
}

// SignIn starts a session and keeps its token for later calls.
func (c *Client) SignIn(ctx context.Context, req SignInRequest) (Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/auth/signin", req, &s); err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// SignOut ends the session. The token is dropped even when the call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/signout", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Me(ctx context.Context) (models.Identity, error) {
	var id models.Identity
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &id)
	return id, err
}

func (c *Client) PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, http.MethodPost, "/orders", req, &o)
	return o, err
}

func (c *Client) MyOrders(ctx context.Context) ([]models.Order, error) {
	var list []models.Order
	err := c.do(ctx, http.MethodGet, "/orders", nil, &list)
	return list, err
}

func (c *Client) Order(ctx context.Context, orderID string) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &o)
	return o, err
}

func (c *Client) UpdateStatus(ctx context.Context, orderID, shopOrderID string, status models.ShopOrderStatus) (models.ShopOrder, error) {
	var so models.ShopOrder
	err := c.do(ctx, http.MethodPut, shopOrderPath(orderID, shopOrderID)+"/status",
		map[string]models.ShopOrderStatus{"status": status}, &so)
	return so, err
}

func (c *Client) Assignments(ctx context.Context) ([]models.Assignment, error) {
	var list []models.Assignment
	err := c.do(ctx, http.MethodGet, "/delivery/assignments", nil, &list)
	return list, err
}

func (c *Client) Accept(ctx context.Context, assignmentID string) (models.ShopOrder, error) {
	var so models.ShopOrder
	err := c.do(ctx, http.MethodPost, "/delivery/assignments/"+url.PathEscape(assignmentID)+"/accept", nil, &so)
	return so, err
}

// Current returns the delivery the courier is carrying; apperr.ErrNotFound
// when there is none.
func (c *Client) Current(ctx context.Context) (orders.CurrentDelivery, error) {
	var cur orders.CurrentDelivery
	err := c.do(ctx, http.MethodGet, "/delivery/current", nil, &cur)
	return cur, err
}

func (c *Client) Stats(ctx context.Context) (models.CourierStats, error) {
	var st models.CourierStats
	err := c.do(ctx, http.MethodGet, "/delivery/stats", nil, &st)
	return st, err
}

// UpdateLocation reports the courier position and returns the order it is
// currently attached to, if any.
func (c *Client) UpdateLocation(ctx context.Context, lat, lon float64) (string, error) {
	var resp struct {
		ActiveOrderID string `json:"active_order_id"`
	}
	err := c.do(ctx, http.MethodPost, "/delivery/location",
		map[string]float64{"latitude": lat, "longitude": lon}, &resp)
	return resp.ActiveOrderID, err
}

type CodeIssued struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

func (c *Client) SendCode(ctx context.Context, orderID, shopOrderID string) (CodeIssued, error) {
	var ci CodeIssued
	err := c.do(ctx, http.MethodPost, shopOrderPath(orderID, shopOrderID)+"/delivery-code", nil, &ci)
	return ci, err
}

func (c *Client) VerifyCode(ctx context.Context, orderID, shopOrderID, code string) (models.ShopOrder, error) {
	var so models.ShopOrder
	err := c.do(ctx, http.MethodPost, shopOrderPath(orderID, shopOrderID)+"/delivery-code/verify",
		map[string]string{"code": code}, &so)
	return so, err
}

func (c *Client) ChatForOrder(ctx context.Context, orderID, shopOrderID string) (models.Chat, error) {
	var ch models.Chat
	err := c.do(ctx, http.MethodGet, "/chat/order/"+url.PathEscape(orderID)+"/"+url.PathEscape(shopOrderID), nil, &ch)
	return ch, err
}

func (c *Client) Chat(ctx context.Context, chatID string) (models.Chat, error) {
	var ch models.Chat
	err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(chatID), nil, &ch)
	return ch, err
}

func (c *Client) SendMessage(ctx context.Context, chatID, content string) (models.ChatMessage, error) {
	var msg models.ChatMessage
	err := c.do(ctx, http.MethodPost, "/chat/"+url.PathEscape(chatID)+"/message",
		map[string]string{"content": content}, &msg)
	return msg, err
}

// MarkRead returns how many messages were newly marked.
func (c *Client) MarkRead(ctx context.Context, chatID string) (int, error) {
	var resp struct {
		Marked int `json:"marked"`
	}
	err := c.do(ctx, http.MethodPut, "/chat/"+url.PathEscape(chatID)+"/read", nil, &resp)
	return resp.Marked, err
}

func shopOrderPath(orderID, shopOrderID string) string {
	return "/orders/" + url.PathEscape(orderID) + "/shop-orders/" + url.PathEscape(shopOrderID)
}
