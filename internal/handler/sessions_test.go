package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/auth"
	"github.com/kiwari-pos/console/internal/enum"
	"github.com/kiwari-pos/console/internal/handler"
	"github.com/kiwari-pos/console/internal/middleware"
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/kiwari-pos/console/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const testSecret = "test-secret"

// --- Mock OrderAPI ---

type mockOrderAPI struct {
	listFn   func(ctx context.Context, orderID int64) ([]orderapi.LineItem, error)
	addFn    func(ctx context.Context, req orderapi.AddItemRequest) error
	updateFn func(ctx context.Context, itemID int64, req orderapi.UpdateItemRequest) error
	removeFn func(ctx context.Context, itemID int64) error
	statusFn func(ctx context.Context, orderID int64, req orderapi.StatusUpdate) error
	emailFn  func(ctx context.Context, kind string, payload orderapi.EmailPayload) error
}

func (m *mockOrderAPI) ListOrderItems(ctx context.Context, orderID int64) ([]orderapi.LineItem, error) {
	if m.listFn != nil {
		return m.listFn(ctx, orderID)
	}
	return []orderapi.LineItem{}, nil
}

func (m *mockOrderAPI) AddOrderItem(ctx context.Context, req orderapi.AddItemRequest) error {
	if m.addFn != nil {
		return m.addFn(ctx, req)
	}
	return nil
}

func (m *mockOrderAPI) UpdateOrderItem(ctx context.Context, itemID int64, req orderapi.UpdateItemRequest) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, itemID, req)
	}
	return nil
}

func (m *mockOrderAPI) RemoveOrderItem(ctx context.Context, itemID int64) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, itemID)
	}
	return nil
}

func (m *mockOrderAPI) UpdateOrderStatus(ctx context.Context, orderID int64, req orderapi.StatusUpdate) error {
	if m.statusFn != nil {
		return m.statusFn(ctx, orderID, req)
	}
	return nil
}

func (m *mockOrderAPI) SendOrderEmail(ctx context.Context, kind string, payload orderapi.EmailPayload) error {
	if m.emailFn != nil {
		return m.emailFn(ctx, kind, payload)
	}
	return nil
}

// --- Helpers ---

type sessionBody struct {
	ID     uuid.UUID           `json:"id"`
	Order  *orderapi.Order     `json:"order"`
	Items  []orderapi.LineItem `json:"items"`
	Totals service.Totals      `json:"totals"`
	Busy   bool                `json:"busy"`
	Warn   string              `json:"warning"`
}

type testEnv struct {
	router   http.Handler
	manager  *service.SessionManager
	api      *mockOrderAPI
	token    string
	gotToken string
}

func setupSessionRouter(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{api: &mockOrderAPI{}}
	env.manager = service.NewSessionManager(func(id uuid.UUID, token string) *service.OrderSession {
		env.gotToken = token
		return service.NewOrderSession(env.api, service.WithSessionID(id))
	})

	tok, err := auth.GenerateToken(testSecret, uuid.New(), enum.RoleAdmin, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	env.token = tok

	h := handler.NewSessionHandler(env.manager, logrus.New())
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testSecret))
	r.Route("/sessions", h.RegisterRoutes)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, sessionBody) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var resp sessionBody
	if rr.Code < 300 && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
		}
	}
	return rr, resp
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

var a1 = orderapi.LineItem{
	ID: 1, OrderID: 500, ProductCode: "A1", Name: "Alfajor",
	Price: decimal.NewFromInt(10), Quantity: 2, Subtotal: decimal.NewFromInt(20),
}

// openOrder creates a session with order #500 selected.
func (e *testEnv) openOrder(t *testing.T, status string, items ...orderapi.LineItem) uuid.UUID {
	t.Helper()
	e.api.listFn = func(ctx context.Context, orderID int64) ([]orderapi.LineItem, error) {
		return items, nil
	}

	rr, created := e.do(t, http.MethodPost, "/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rr.Code, rr.Body.String())
	}

	order := map[string]any{
		"id": 500, "name": "Ana", "email": "ana@example.com",
		"address": "Av. Siempre Viva 742", "status": status, "shipping_cost": "5.00",
	}
	rr, _ = e.do(t, http.MethodPut, "/sessions/"+created.ID.String()+"/order", order)
	if rr.Code != http.StatusOK {
		t.Fatalf("select order: status %d: %s", rr.Code, rr.Body.String())
	}
	return created.ID
}

// --- Tests ---

func TestCreateSession_ForwardsUserToken(t *testing.T) {
	env := setupSessionRouter(t)

	rr, resp := env.do(t, http.MethodPost, "/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusCreated)
	}
	if resp.ID == uuid.Nil {
		t.Fatal("expected session id")
	}
	if resp.Order != nil {
		t.Error("new session should have no order")
	}
	if env.gotToken != env.token {
		t.Error("user token not passed to the session factory")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	env := setupSessionRouter(t)

	rr, _ := env.do(t, http.MethodGet, "/sessions/"+uuid.New().String(), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr, _ = env.do(t, http.MethodGet, "/sessions/not-a-uuid", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSelectOrder_ReturnsTotals(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	rr, resp := env.do(t, http.MethodGet, "/sessions/"+sid.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if resp.Order == nil || resp.Order.ID != 500 {
		t.Fatalf("expected order 500, got %+v", resp.Order)
	}
	if !resp.Totals.Total.Equal(decimal.NewFromInt(25)) || resp.Totals.ItemCount != 2 {
		t.Errorf("unexpected totals %+v", resp.Totals)
	}
}

func TestSelectOrder_MissingID(t *testing.T) {
	env := setupSessionRouter(t)
	_, created := env.do(t, http.MethodPost, "/sessions", nil)

	rr, _ := env.do(t, http.MethodPut, "/sessions/"+created.ID.String()+"/order", map[string]any{"name": "Ana"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAddItem_DuplicateIsBadRequest(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	called := false
	env.api.addFn = func(ctx context.Context, req orderapi.AddItemRequest) error {
		called = true
		return nil
	}

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/items", map[string]any{
		"product":  map[string]any{"code": "A1", "name": "Alfajor", "price": "10", "stock": 50},
		"quantity": 1,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := errorMessage(t, rr); msg != "Product is already in the order" {
		t.Errorf("error: got %q", msg)
	}
	if called {
		t.Error("duplicate add reached the API")
	}
}

func TestAddItem_Success(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	b2 := orderapi.LineItem{ID: 2, OrderID: 500, ProductCode: "B2", Quantity: 1,
		Price: decimal.RequireFromString("7.50"), Subtotal: decimal.RequireFromString("7.50")}
	env.api.addFn = func(ctx context.Context, req orderapi.AddItemRequest) error {
		env.api.listFn = func(ctx context.Context, orderID int64) ([]orderapi.LineItem, error) {
			return []orderapi.LineItem{a1, b2}, nil
		}
		return nil
	}

	rr, resp := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/items", map[string]any{
		"product":  map[string]any{"code": "B2", "name": "Budin", "price": 7.5, "stock": 3},
		"quantity": 1,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rr.Code, rr.Body.String())
	}
	if !resp.Totals.Total.Equal(decimal.RequireFromString("32.50")) || resp.Totals.ItemCount != 3 {
		t.Errorf("unexpected totals %+v", resp.Totals)
	}
}

func TestAddItem_APIRejectionIs422(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)
	env.api.addFn = func(ctx context.Context, req orderapi.AddItemRequest) error {
		return &orderapi.APIError{StatusCode: http.StatusConflict, Message: "Producto sin stock"}
	}

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/items", map[string]any{
		"product":  map[string]any{"code": "B2", "price": "1", "stock": 3},
		"quantity": 1,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
	if msg := errorMessage(t, rr); msg != "Producto sin stock" {
		t.Errorf("error: got %q", msg)
	}
}

func TestUpdateItem_TransportErrorIs502(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)
	env.api.updateFn = func(ctx context.Context, itemID int64, req orderapi.UpdateItemRequest) error {
		return orderapi.ErrTransport
	}

	rr, _ := env.do(t, http.MethodPut, "/sessions/"+sid.String()+"/items/1", map[string]any{
		"name": "Alfajor", "quantity": 3, "price": "10",
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestUpdateItem_OmittedPriceKeepsCurrent(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	var got orderapi.UpdateItemRequest
	env.api.updateFn = func(ctx context.Context, itemID int64, req orderapi.UpdateItemRequest) error {
		got = req
		return nil
	}

	rr, _ := env.do(t, http.MethodPut, "/sessions/"+sid.String()+"/items/1", map[string]any{"quantity": 3})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rr.Code, rr.Body.String())
	}
	if !got.Price.Equal(decimal.NewFromInt(10)) {
		t.Errorf("price: got %s, want 10", got.Price)
	}
	if got.Name != "Alfajor" || got.Quantity != 3 {
		t.Errorf("unexpected update payload %+v", got)
	}

	rr, _ = env.do(t, http.MethodPut, "/sessions/"+sid.String()+"/items/1", map[string]any{"quantity": 3, "price": "0"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rr.Code, rr.Body.String())
	}
	if !got.Price.IsZero() {
		t.Errorf("explicit zero price: got %s", got.Price)
	}
}

func TestRemoveItem_InvalidID(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	rr, _ := env.do(t, http.MethodDelete, "/sessions/"+sid.String()+"/items/abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRemoveItem_ReloadFailureIsWarning(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)
	env.api.removeFn = func(ctx context.Context, itemID int64) error {
		env.api.listFn = func(ctx context.Context, orderID int64) ([]orderapi.LineItem, error) {
			return nil, orderapi.ErrTransport
		}
		return nil
	}

	rr, resp := env.do(t, http.MethodDelete, "/sessions/"+sid.String()+"/items/1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if resp.Warn == "" {
		t.Error("expected a warning when the reload failed")
	}
}

func TestConfirmThenSendWithoutWindow(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	rr, resp := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/confirm", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: status %d: %s", rr.Code, rr.Body.String())
	}
	if resp.Order.Status != enum.OrderStatusConfirmed {
		t.Fatalf("status: got %s", resp.Order.Status)
	}

	rr, _ = env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/send", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("send: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := errorMessage(t, rr); !strings.Contains(strings.ToLower(msg), "delivery window") {
		t.Errorf("error: got %q", msg)
	}

	_, resp = env.do(t, http.MethodGet, "/sessions/"+sid.String(), nil)
	if resp.Order.Status != enum.OrderStatusConfirmed {
		t.Errorf("status after failed send: got %s", resp.Order.Status)
	}
}

func TestSend_WithWindow(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusConfirmed, a1)

	var got orderapi.StatusUpdate
	env.api.statusFn = func(ctx context.Context, orderID int64, req orderapi.StatusUpdate) error {
		got = req
		return nil
	}

	rr, resp := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/send", map[string]string{
		"delivery_window_start": "16:00",
		"delivery_window_end":   "18:00",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rr.Code, rr.Body.String())
	}
	if resp.Order.Status != enum.OrderStatusDelivered {
		t.Errorf("status: got %s", resp.Order.Status)
	}
	if got.WindowStart != "16:00" || got.WindowEnd != "18:00" {
		t.Errorf("unexpected status payload %+v", got)
	}
}

func TestSend_MalformedWindow(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusConfirmed, a1)

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/send", map[string]string{
		"delivery_window_start": "four pm",
		"delivery_window_end":   "18:00",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCancel_Delivered(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusDelivered, a1)

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/cancel", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestEmails(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusDelivered, a1)

	var kinds []string
	env.api.emailFn = func(ctx context.Context, kind string, payload orderapi.EmailPayload) error {
		kinds = append(kinds, kind)
		return nil
	}

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/emails/confirmation", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirmation: status %d: %s", rr.Code, rr.Body.String())
	}
	rr, _ = env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/emails/in-transit", map[string]string{
		"delivery_window_start": "10:00",
		"delivery_window_end":   "12:00",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("in-transit: status %d: %s", rr.Code, rr.Body.String())
	}

	want := []string{enum.EmailOrderConfirmed, enum.EmailOrderInTransit}
	if len(kinds) != 2 || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("kinds: got %v, want %v", kinds, want)
	}
}

func TestMutationWithoutOrder(t *testing.T) {
	env := setupSessionRouter(t)
	_, created := env.do(t, http.MethodPost, "/sessions", nil)

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+created.ID.String()+"/confirm", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestBusySessionIs409(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.api.removeFn = func(ctx context.Context, itemID int64) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodDelete, "/sessions/"+sid.String()+"/items/1", nil)
		req.Header.Set("Authorization", "Bearer "+env.token)
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		done <- rr.Code
	}()
	<-entered

	rr, _ := env.do(t, http.MethodPost, "/sessions/"+sid.String()+"/confirm", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first request: got %d", code)
	}
}

func TestCloseSession(t *testing.T) {
	env := setupSessionRouter(t)
	sid := env.openOrder(t, enum.OrderStatusPending, a1)

	rr, _ := env.do(t, http.MethodDelete, "/sessions/"+sid.String(), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNoContent)
	}
	if env.manager.Len() != 0 {
		t.Error("session still registered")
	}

	rr, _ = env.do(t, http.MethodDelete, "/sessions/"+sid.String(), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second close: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}
