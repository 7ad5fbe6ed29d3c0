package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"splitledger/internal/cache"
	"splitledger/internal/log"
	"splitledger/internal/services"
	"splitledger/internal/storage/sqlite"
)

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	mem := cache.NewMemory(64)
	expenses := services.NewExpenseService(store, mem, nil, logger)
	balances := services.NewBalanceService(store, mem, time.Minute, logger)

	srv := NewServer(Config{RateLimitPerMin: 10000}, expenses, balances, store, logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

// seedGroup creates users and a group directly in the store, returning
// the group ID and member IDs in creation order.
func seedGroup(t *testing.T, store *sqlite.Store, names ...string) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	memberIDs := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := store.CreateUser(ctx, name, name+"@example.com")
		if err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		memberIDs = append(memberIDs, id)
	}

	groupID, err := store.CreateGroup(ctx, "trip", "", memberIDs)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return groupID, memberIDs
}

func TestExpenseLifecycle(t *testing.T) {
	ts, store := newTestServer(t)
	groupID, members := seedGroup(t, store, "alice", "bob", "carol")
	base := fmt.Sprintf("/api/v1/groups/%d", groupID)

	resp, body := postJSON(t, ts, base+"/expenses", map[string]any{
		"paid_by_user_id": members[0],
		"description":     "dinner",
		"amount":          90,
		"split_method":    "equal",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expense: status %d body %v", resp.StatusCode, body)
	}
	expenseID := int64(body["id"].(float64))

	var balances []balanceResponse
	if resp := getJSON(t, ts, base+"/balances", &balances); resp.StatusCode != http.StatusOK {
		t.Fatalf("balances: status %d", resp.StatusCode)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balance edges, want 2: %v", len(balances), balances)
	}
	for _, b := range balances {
		if b.CreditorID != members[0] || b.Amount != 30 {
			t.Errorf("unexpected edge %+v", b)
		}
	}

	var plan []settlementResponse
	if resp := getJSON(t, ts, base+"/settlements", &plan); resp.StatusCode != http.StatusOK {
		t.Fatalf("settlements: status %d", resp.StatusCode)
	}
	if len(plan) != 2 {
		t.Fatalf("got %d transfers, want 2: %v", len(plan), plan)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+fmt.Sprintf("/api/v1/expenses/%d", expenseID), nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expense: status %d", delResp.StatusCode)
	}

	balances = nil
	getJSON(t, ts, base+"/balances", &balances)
	if len(balances) != 0 {
		t.Errorf("balances after delete = %v, want empty", balances)
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	ts, store := newTestServer(t)
	groupID, members := seedGroup(t, store, "alice", "bob")
	path := fmt.Sprintf("/api/v1/groups/%d/expenses", groupID)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name: "unknown method",
			body: map[string]any{
				"paid_by_user_id": members[0],
				"description":     "x",
				"amount":          10,
				"split_method":    "random",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "zero amount",
			body: map[string]any{
				"paid_by_user_id": members[0],
				"description":     "x",
				"amount":          0,
				"split_method":    "equal",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "empty description",
			body: map[string]any{
				"paid_by_user_id": members[0],
				"description":     "",
				"amount":          10,
				"split_method":    "equal",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "missing payer",
			body: map[string]any{
				"description":  "x",
				"amount":       10,
				"split_method": "equal",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "percentages not summing to 100",
			body: map[string]any{
				"paid_by_user_id": members[0],
				"description":     "x",
				"amount":          10,
				"split_method":    "percentage",
				"splits": []map[string]any{
					{"user_id": members[0], "percentage": 50},
					{"user_id": members[1], "percentage": 30},
				},
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts, path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %v)", resp.StatusCode, tt.wantStatus, body)
			}
			if body["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestNotFoundStatuses(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp := getJSON(t, ts, "/api/v1/groups/999/balances", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown group: status %d, want 404", resp.StatusCode)
	}
	if resp := getJSON(t, ts, "/api/v1/users/999/balance", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user: status %d, want 404", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/expenses/999", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown expense: status %d, want 404", resp.StatusCode)
	}

	if resp := getJSON(t, ts, "/api/v1/groups/abc/balances", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed group ID: status %d, want 400", resp.StatusCode)
	}
}

func TestUserBalanceEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	groupID, members := seedGroup(t, store, "alice", "bob")

	resp, _ := postJSON(t, ts, fmt.Sprintf("/api/v1/groups/%d/expenses", groupID), map[string]any{
		"paid_by_user_id": members[0],
		"description":     "hotel",
		"amount":          100,
		"split_method":    "equal",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expense: status %d", resp.StatusCode)
	}

	var summary summaryResponse
	if resp := getJSON(t, ts, fmt.Sprintf("/api/v1/users/%d/balance", members[1]), &summary); resp.StatusCode != http.StatusOK {
		t.Fatalf("user balance: status %d", resp.StatusCode)
	}
	if summary.TotalOwing != 50 || summary.Net != -50 {
		t.Errorf("summary = %+v, want owing 50 net -50", summary)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestRequestIDEcho(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req_test_123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req_test_123" {
		t.Errorf("X-Request-ID = %q, want req_test_123", got)
	}
}
