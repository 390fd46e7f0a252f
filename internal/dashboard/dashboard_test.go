package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tarekazabou/sentineld/internal/events"
)

type fakeStore struct {
	recent         []events.Alert
	unacknowledged []events.Alert
	acknowledged   []string
	failNext       error
}

func (f *fakeStore) RecentAlerts(limit int) ([]events.Alert, error) {
	if f.failNext != nil {
		return nil, f.failNext
	}
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStore) UnacknowledgedAlerts() ([]events.Alert, error) {
	if f.failNext != nil {
		return nil, f.failNext
	}
	return f.unacknowledged, nil
}

func (f *fakeStore) Acknowledge(id string) error {
	if f.failNext != nil {
		return f.failNext
	}
	f.acknowledged = append(f.acknowledged, id)
	return nil
}

func TestRecentAlertsEndpoint(t *testing.T) {
	store := &fakeStore{recent: []events.Alert{{ID: "a1", Severity: events.SeverityHigh}}}
	s := New("127.0.0.1:0", store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", rec.Header().Get("Content-Type"))
	}
}

func TestUnacknowledgedAlertsEndpoint(t *testing.T) {
	store := &fakeStore{unacknowledged: []events.Alert{{ID: "a2"}}}
	s := New("127.0.0.1:0", store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/unacknowledged", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAcknowledgeEndpointRequiresPOSTAndID(t *testing.T) {
	store := &fakeStore{}
	s := New("127.0.0.1:0", store, nil)

	get := httptest.NewRequest(http.MethodGet, "/api/alerts/acknowledge?id=a1", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, get)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}

	noID := httptest.NewRequest(http.MethodPost, "/api/alerts/acknowledge", nil)
	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, noID)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing id, got %d", rec.Code)
	}

	ok := httptest.NewRequest(http.MethodPost, "/api/alerts/acknowledge?id=a1", nil)
	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, ok)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(store.acknowledged) != 1 || store.acknowledged[0] != "a1" {
		t.Errorf("expected Acknowledge(\"a1\") to be called, got %+v", store.acknowledged)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	store := &fakeStore{}
	s := New("127.0.0.1:0", store, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestStoreErrorReturns500(t *testing.T) {
	store := &fakeStore{failNext: errFake{}}
	s := New("127.0.0.1:0", store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/recent", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type errFake struct{}

func (errFake) Error() string { return "boom" }
