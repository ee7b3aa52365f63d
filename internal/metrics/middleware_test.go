package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
)

// counterLabels returns the label sets of every http_requests_total series.
func counterLabels(t *testing.T, reg *Registry) []map[string]string {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var out []map[string]string
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			out = append(out, labelMap(m))
		}
	}
	return out
}

func labelMap(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	return labels
}

func TestHTTPMiddleware(t *testing.T) {
	reg := NewRegistry()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	w := httptest.NewRecorder()
	HTTPMiddleware(reg)(handler).ServeHTTP(w, httptest.NewRequest("GET", "/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	labels := counterLabels(t, reg)
	if len(labels) != 1 || labels[0]["path"] != "/status" || labels[0]["status"] != "2xx" {
		t.Errorf("unexpected series %v", labels)
	}

	mfs, _ := reg.Gather()
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "http_request_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("expected http_request_duration_seconds to be recorded")
	}
}

func TestHTTPMiddleware_LabelsByRoutePattern(t *testing.T) {
	reg := NewRegistry()
	r := chi.NewRouter()
	r.Use(HTTPMiddleware(reg))
	r.Post("/intents/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	for _, id := range []string{"int_1", "int_2", "int_3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/intents/"+id+"/confirm", nil))
	}

	labels := counterLabels(t, reg)
	if len(labels) != 1 {
		t.Fatalf("expected one series for three ids, got %v", labels)
	}
	if labels[0]["path"] != "/intents/{id}/confirm" || labels[0]["status"] != "4xx" {
		t.Errorf("unexpected labels %v", labels[0])
	}
}

func TestHTTPMiddleware_TracksInFlight(t *testing.T) {
	reg := NewRegistry()

	inFlight := func() float64 {
		mfs, _ := reg.Gather()
		for _, mf := range mfs {
			if mf.GetName() == "http_requests_in_flight" {
				return mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		return -1
	}

	during := float64(-1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = inFlight()
	})
	HTTPMiddleware(reg)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	if during != 1 {
		t.Errorf("expected in-flight to be 1 during request, got %v", during)
	}
	if after := inFlight(); after != 0 {
		t.Errorf("expected in-flight to be 0 after request, got %v", after)
	}
}

func TestHTTPMiddleware_ServerErrors(t *testing.T) {
	reg := NewRegistry()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	HTTPMiddleware(reg)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/intents", nil))

	labels := counterLabels(t, reg)
	if len(labels) != 1 || labels[0]["status"] != "5xx" {
		t.Errorf("expected a 5xx series, got %v", labels)
	}
}
