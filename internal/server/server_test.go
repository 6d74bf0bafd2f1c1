package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"liblend/internal/lending"
	"liblend/internal/scheduler"
	"liblend/pkg/domain"
	"liblend/pkg/store"
)

type noopNotifier struct{}

func (noopNotifier) Enqueue(context.Context, string, map[string]any) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *lending.Service) {
	t.Helper()
	st := store.NewMemoryStore()
	st.SeedBook(domain.Book{ID: "b1", Title: "The Go Programming Language", Availability: domain.Available})
	st.SeedUser(domain.User{ID: "u1", Name: "Alice", Email: "alice@example.com"})
	st.SeedUser(domain.User{ID: "u2", Name: "Bob", Email: "bob@example.com"})
	svc, err := lending.New(lending.Config{
		Store:    st,
		Notifier: noopNotifier{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("lending.New: %v", err)
	}
	sched, err := scheduler.New(scheduler.Config{
		Store: st,
		Jobs: []scheduler.Job{{
			Name:    "overdue-sweep",
			Pattern: "0 0 * * *",
			Run: func(ctx context.Context) error {
				_, err := svc.OverdueSweep(ctx)
				return err
			},
		}},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	srv, err := New(Config{Lending: svc, Scheduler: sched})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st, svc
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/books/b1/checkout", map[string]any{"userId": "u1", "days": 7})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	rec := decodeBody[domain.BorrowRecord](t, resp)
	if rec.BookID != "b1" || rec.UserID != "u1" {
		t.Fatalf("record = (%s, %s), want (b1, u1)", rec.BookID, rec.UserID)
	}

	// The same book is now taken.
	resp = postJSON(t, ts.URL+"/books/b1/checkout", map[string]any{"userId": "u2"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second checkout status = %d, want 409", resp.StatusCode)
	}
	errResp := decodeBody[map[string]any](t, resp)
	if errResp["code"] != "LENDING_CONFLICT" {
		t.Fatalf("code = %v, want LENDING_CONFLICT", errResp["code"])
	}
}

func TestCheckoutValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/books/b1/checkout", map[string]any{"userId": "u1", "days": 90})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for out-of-range days", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/books/b1/checkout", map[string]any{"days": 7})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing userId", resp.StatusCode)
	}
}

func TestCheckoutUnknownBook(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/books/nope/checkout", map[string]any{"userId": "u1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestReserveAndCancelFlow(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/books/b1/checkout", map[string]any{"userId": "u1"})
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/books/b1/reserve", map[string]any{"userId": "u2"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve status = %d, want 201", resp.StatusCode)
	}
	res := decodeBody[domain.ReservationRequest](t, resp)
	if res.Status != domain.RequestPending {
		t.Fatalf("status = %s, want pending", res.Status)
	}

	resp = postJSON(t, ts.URL+"/reservations/"+res.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	cancelled := decodeBody[domain.ReservationRequest](t, resp)
	if cancelled.Status != domain.RequestCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
}

func TestClaimEndpoint(t *testing.T) {
	ts, _, svc := newTestServer(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 14); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	res, err := svc.Reserve(ctx, "b1", "u2")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Return(ctx, "b1", "u1"); err != nil {
		t.Fatalf("Return: %v", err)
	}

	resp := postJSON(t, ts.URL+"/reservations/"+res.ID+"/claim", map[string]any{"days": 7})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("claim status = %d, want 201", resp.StatusCode)
	}
	rec := decodeBody[domain.BorrowRecord](t, resp)
	if rec.UserID != "u2" {
		t.Fatalf("claimed by %s, want u2", rec.UserID)
	}
}

func TestUserResources(t *testing.T) {
	ts, _, svc := newTestServer(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 14); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	resp, err := http.Get(ts.URL + "/users/u1/borrows")
	if err != nil {
		t.Fatalf("GET borrows: %v", err)
	}
	records := decodeBody[[]domain.BorrowRecord](t, resp)
	if len(records) != 1 {
		t.Fatalf("borrows = %d, want 1", len(records))
	}

	resp, err = http.Get(ts.URL + "/users/u1/penalty")
	if err != nil {
		t.Fatalf("GET penalty: %v", err)
	}
	summary := decodeBody[lending.PenaltySummary](t, resp)
	if summary.UserID != "u1" || summary.TotalPenalty != 0 {
		t.Fatalf("summary = %+v, want u1 with no penalty", summary)
	}
}

func TestRunJobsEndpoint(t *testing.T) {
	ts, st, svc := newTestServer(t)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "b1", "u1", 7); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	resp := postJSON(t, ts.URL+"/jobs/run", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, ok, _ := st.GetJobWatermark(ctx, "overdue-sweep"); !ok {
		t.Fatal("watermark missing after manual run")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/books/b1/checkout")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
