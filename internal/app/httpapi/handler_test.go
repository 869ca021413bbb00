package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/estrateo/estrateo/internal/app"
	"github.com/estrateo/estrateo/pkg/testutil"
)

type testEnv struct {
	t       *testing.T
	app     *app.Application
	handler *Handler
}

type session struct {
	token        string
	restaurantID string
	userID       string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := testutil.Logger()
	application, err := app.New(app.Stores{}, testutil.Config(t), log)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler, err := NewHandler(application, Options{Logger: log, AuditFile: t.TempDir() + "/audit.jsonl"})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	t.Cleanup(func() { handler.Close() })
	return &testEnv{t: t, app: application, handler: handler}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) expect(rec *httptest.ResponseRecorder, status int) map[string]any {
	e.t.Helper()
	if rec.Code != status {
		e.t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			e.t.Fatalf("decode body: %v", err)
		}
	}
	return out
}

func (e *testEnv) list(rec *httptest.ResponseRecorder) []map[string]any {
	e.t.Helper()
	if rec.Code != http.StatusOK {
		e.t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		e.t.Fatalf("decode list: %v", err)
	}
	return out
}

func (e *testEnv) register(restaurant, email string) session {
	e.t.Helper()
	body := e.expect(e.do(http.MethodPost, "/auth/register", "", map[string]any{
		"restaurant_name": restaurant,
		"name":            "Owner",
		"email":           email,
		"password":        "supersecret",
	}), http.StatusCreated)
	return session{
		token:        body["token"].(string),
		restaurantID: body["restaurant"].(map[string]any)["id"].(string),
		userID:       body["user"].(map[string]any)["id"].(string),
	}
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	health := env.expect(env.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", health)
	}

	owner := env.register("Casa Pepe", "pepe@example.com")
	env.expect(env.do(http.MethodPost, "/auth/register", "", map[string]any{
		"restaurant_name": "Again", "name": "X", "email": "PEPE@example.com", "password": "supersecret",
	}), http.StatusConflict)

	login := env.expect(env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "pepe@example.com", "password": "supersecret"}), http.StatusOK)
	if login["token"] == "" {
		t.Fatal("login returned no token")
	}
	bad := env.expect(env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "pepe@example.com", "password": "wrong-password"}), http.StatusUnauthorized)
	if bad["error"] != "invalid credentials" {
		t.Fatalf("unexpected error body: %v", bad)
	}

	me := env.expect(env.do(http.MethodGet, "/auth/me", owner.token, nil), http.StatusOK)
	if me["user"].(map[string]any)["role"] != "owner" {
		t.Fatalf("unexpected me body: %v", me)
	}
	env.expect(env.do(http.MethodPost, "/auth/refresh", owner.token, nil), http.StatusOK)
	env.expect(env.do(http.MethodPost, "/auth/password", owner.token, map[string]any{"current_password": "supersecret", "new_password": "evenmoresecret"}), http.StatusNoContent)
	env.expect(env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "pepe@example.com", "password": "evenmoresecret"}), http.StatusOK)

	env.expect(env.do(http.MethodGet, "/auth/me", "", nil), http.StatusUnauthorized)
	env.expect(env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "a", "unknown": 1}), http.StatusBadRequest)
}

func TestTenantAndRoleGuards(t *testing.T) {
	env := newTestEnv(t)
	a := env.register("A", "a@example.com")
	b := env.register("B", "b@example.com")

	env.expect(env.do(http.MethodGet, "/restaurants/"+b.restaurantID, a.token, nil), http.StatusForbidden)
	env.expect(env.do(http.MethodGet, "/restaurants/"+a.restaurantID, a.token, nil), http.StatusOK)

	env.expect(env.do(http.MethodPost, "/restaurants/"+a.restaurantID+"/users", a.token, map[string]any{
		"name": "Staff", "email": "staff@example.com", "password": "staffpass", "role": "staff",
	}), http.StatusCreated)
	staff := env.expect(env.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "staff@example.com", "password": "staffpass"}), http.StatusOK)
	staffToken := staff["token"].(string)

	base := "/restaurants/" + a.restaurantID
	env.expect(env.do(http.MethodGet, base+"/inventory", staffToken, nil), http.StatusOK)
	env.expect(env.do(http.MethodGet, base+"/payments", staffToken, nil), http.StatusForbidden)
	env.expect(env.do(http.MethodPost, base+"/inventory", staffToken, map[string]any{"name": "Salt"}), http.StatusForbidden)
	env.expect(env.do(http.MethodGet, base+"/users", staffToken, nil), http.StatusForbidden)
	env.expect(env.do(http.MethodPut, base, staffToken, map[string]any{"name": "Hijack"}), http.StatusForbidden)

	users := env.list(env.do(http.MethodGet, base+"/users", a.token, nil))
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	env.expect(env.do(http.MethodPatch, base+"/users/"+a.userID, a.token, map[string]any{"role": "manager"}), http.StatusConflict)

	updated := env.expect(env.do(http.MethodPut, base, a.token, map[string]any{"name": "A renamed", "timezone": "Europe/Madrid"}), http.StatusOK)
	if updated["name"] != "A renamed" || updated["timezone"] != "Europe/Madrid" {
		t.Fatalf("unexpected restaurant: %v", updated)
	}
}

func TestPaymentsAndEmployees(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register("Casa", "owner@example.com")
	base := "/restaurants/" + owner.restaurantID

	sale := env.expect(env.do(http.MethodPost, base+"/payments", owner.token, map[string]any{
		"direction": "income", "category": "sales", "amount_cents": 12500, "occurred_at": "2024-06-10",
	}), http.StatusCreated)
	if sale["status"] != "completed" {
		t.Fatalf("unexpected payment: %v", sale)
	}
	rent := env.expect(env.do(http.MethodPost, base+"/payments", owner.token, map[string]any{
		"direction": "expense", "category": "rent", "amount_cents": 80000, "status": "pending", "occurred_at": "2024-06-01T09:00:00Z",
	}), http.StatusCreated)
	rentID := rent["id"].(string)

	flow := env.expect(env.do(http.MethodGet, base+"/cashflow?from=2024-06-01&to=2024-07-01", owner.token, nil), http.StatusOK)
	if flow["income_cents"].(float64) != 12500 || flow["expense_cents"].(float64) != 0 {
		t.Fatalf("unexpected cash flow: %v", flow)
	}
	env.expect(env.do(http.MethodPost, base+"/payments/"+rentID+"/complete", owner.token, nil), http.StatusOK)
	env.expect(env.do(http.MethodPost, base+"/payments/"+rentID+"/cancel", owner.token, nil), http.StatusConflict)
	env.expect(env.do(http.MethodDelete, base+"/payments/"+rentID, owner.token, nil), http.StatusConflict)

	expenses := env.list(env.do(http.MethodGet, base+"/payments?direction=expense", owner.token, nil))
	if len(expenses) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(expenses))
	}
	env.expect(env.do(http.MethodGet, base+"/cashflow?from=bogus", owner.token, nil), http.StatusBadRequest)

	emp := env.expect(env.do(http.MethodPost, base+"/employees", owner.token, map[string]any{
		"first_name": "Ana", "last_name": "Ruiz", "position": "chef", "salary_cents": 210000, "hire_date": "2024-01-15",
	}), http.StatusCreated)
	empID := emp["id"].(string)

	env.expect(env.do(http.MethodPost, base+"/employees/"+empID+"/salary-payments", owner.token, map[string]any{"period": "2024-05"}), http.StatusCreated)
	env.expect(env.do(http.MethodPost, base+"/employees/"+empID+"/salary-payments", owner.token, map[string]any{"period": "2024-05"}), http.StatusConflict)
	env.expect(env.do(http.MethodDelete, base+"/employees/"+empID, owner.token, nil), http.StatusConflict)

	status := env.expect(env.do(http.MethodPost, base+"/employees/"+empID+"/status", owner.token, map[string]any{"status": "terminated"}), http.StatusOK)
	if status["terminated_at"] == nil {
		t.Fatalf("terminated_at not set: %v", status)
	}
	staff := env.expect(env.do(http.MethodGet, base+"/employees?status=terminated", owner.token, nil), http.StatusOK)
	if len(staff["employees"].([]any)) != 1 {
		t.Fatalf("unexpected employee list: %v", staff)
	}
}

func TestInventoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register("Casa", "owner@example.com")
	base := "/restaurants/" + owner.restaurantID

	item := env.expect(env.do(http.MethodPost, base+"/inventory", owner.token, map[string]any{
		"name": "Tomatoes", "category": "produce", "unit": "kg", "quantity": 5, "min_quantity": 3, "unit_cost_cents": 200, "expires_at": "2030-01-01",
	}), http.StatusCreated)
	itemID := item["id"].(string)

	env.expect(env.do(http.MethodPost, base+"/inventory/"+itemID+"/movements", owner.token, map[string]any{"kind": "out", "quantity": 9}), http.StatusConflict)
	moved := env.expect(env.do(http.MethodPost, base+"/inventory/"+itemID+"/movements", owner.token, map[string]any{"kind": "out", "quantity": 3, "reason": "lunch"}), http.StatusCreated)
	if moved["item"].(map[string]any)["quantity"].(float64) != 2 {
		t.Fatalf("unexpected movement result: %v", moved)
	}

	low := env.list(env.do(http.MethodGet, base+"/inventory/low-stock", owner.token, nil))
	if len(low) != 1 || low[0]["id"] != itemID {
		t.Fatalf("unexpected low stock: %v", low)
	}

	purchase := env.expect(env.do(http.MethodPost, base+"/inventory/"+itemID+"/purchases", owner.token, map[string]any{"quantity": 10, "unit_cost_cents": 150}), http.StatusCreated)
	if purchase["payment"].(map[string]any)["amount_cents"].(float64) != 1500 {
		t.Fatalf("unexpected purchase: %v", purchase)
	}

	history := env.list(env.do(http.MethodGet, base+"/inventory/"+itemID+"/movements", owner.token, nil))
	if len(history) != 2 || history[0]["kind"] != "in" {
		t.Fatalf("unexpected history: %v", history)
	}
	env.expect(env.do(http.MethodGet, base+"/inventory?expiring_within=soon", owner.token, nil), http.StatusBadRequest)
	env.expect(env.do(http.MethodGet, base+"/inventory/valuation", owner.token, nil), http.StatusOK)

	dash := env.expect(env.do(http.MethodGet, base+"/dashboard?months=2", owner.token, nil), http.StatusOK)
	if dash["expense_cents"].(float64) != 1500 || dash["inventory_items"].(float64) != 1 {
		t.Fatalf("unexpected dashboard: %v", dash)
	}
	env.expect(env.do(http.MethodGet, base+"/dashboard?months=30", owner.token, nil), http.StatusBadRequest)

	env.expect(env.do(http.MethodDelete, base+"/inventory/"+itemID, owner.token, nil), http.StatusNoContent)
	env.expect(env.do(http.MethodGet, base+"/inventory/"+itemID, owner.token, nil), http.StatusNotFound)
}

func TestActivityAuditAndAssistant(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register("Casa", "owner@example.com")
	base := "/restaurants/" + owner.restaurantID

	env.expect(env.do(http.MethodPost, base+"/payments", owner.token, map[string]any{"direction": "income", "amount_cents": 100}), http.StatusCreated)

	activity := env.list(env.do(http.MethodGet, base+"/activity", owner.token, nil))
	if len(activity) != 1 || activity[0]["type"] != "payment.recorded" {
		t.Fatalf("unexpected activity: %v", activity)
	}
	if activity[0]["actor"] != owner.userID {
		t.Fatalf("actor not recorded: %v", activity[0])
	}

	audit := env.list(env.do(http.MethodGet, base+"/audit", owner.token, nil))
	if len(audit) != 2 || audit[0]["path"] != base+"/activity" || audit[1]["status"].(float64) != 201 {
		t.Fatalf("unexpected audit: %v", audit)
	}

	body := env.expect(env.do(http.MethodPost, base+"/assistant", owner.token, map[string]any{"question": "How are we doing?"}), http.StatusNotImplemented)
	if body["code"] != "not_configured" {
		t.Fatalf("unexpected assistant error: %v", body)
	}
	env.expect(env.do(http.MethodGet, "/nowhere", owner.token, nil), http.StatusNotFound)
}

func TestLiveDashboard(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register("Casa", "owner@example.com")
	base := "/restaurants/" + owner.restaurantID

	server := httptest.NewServer(env.handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + base + "/dashboard/live?access_token=" + owner.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (response %v)", err, resp)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first liveMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Summary == nil {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+base+"/payments", strings.NewReader(`{"direction":"income","amount_cents":700}`))
	req.Header.Set("Authorization", "Bearer "+owner.token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}

	for {
		var msg liveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.Type == "event" {
			if msg.Event.Type != "payment.recorded" {
				t.Fatalf("unexpected event: %+v", msg.Event)
			}
			break
		}
	}

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+base+"/dashboard/live", nil)
	if err == nil {
		t.Fatal("expected unauthenticated dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on anonymous dial, got %v", resp)
	}
}
