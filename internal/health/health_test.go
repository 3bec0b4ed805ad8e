package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestPropCheckStatusField verifies that only a body status of exactly 200
// counts as healthy, whatever the HTTP status line says.
func TestPropCheckStatusField(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bodyStatus := rapid.SampledFrom([]int{200, 201, 0, 404, 500, 503}).Draw(t, "bodyStatus")
		httpStatus := rapid.SampledFrom([]int{200, 500}).Draw(t, "httpStatus")

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(httpStatus)
			fmt.Fprintf(w, `{"status":%d,"message":"ok"}`, bodyStatus)
		}))
		defer srv.Close()

		_, err := Check(context.Background(), srv.Client(), srv.URL)
		if bodyStatus == 200 && err != nil {
			t.Fatalf("status 200 body should be healthy: %v", err)
		}
		if bodyStatus != 200 && !errors.Is(err, ErrUnavailable) {
			t.Fatalf("status %d body should be unavailable, got %v", bodyStatus, err)
		}
	})
}

func TestCheckRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	if _, err := Check(context.Background(), srv.Client(), srv.URL); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := Check(context.Background(), nil, url); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestWaitReadyEventuallySucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Write([]byte(`{"status":503}`))
			return
		}
		w.Write([]byte(`{"status":200}`))
	}))
	defer srv.Close()

	if err := WaitReady(context.Background(), srv.Client(), srv.URL, 5*time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Errorf("expected at least 3 probes, got %d", calls)
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":500}`))
	}))
	defer srv.Close()

	start := time.Now()
	err := WaitReady(context.Background(), srv.Client(), srv.URL, 300*time.Millisecond)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected wrapped ErrUnavailable, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("WaitReady overran its timeout")
	}
}
