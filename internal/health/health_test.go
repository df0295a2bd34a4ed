package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckEndpoint_ok(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if err := CheckEndpoint(context.Background(), srv.URL); err != nil {
		t.Fatalf("CheckEndpoint: %v", err)
	}
}

func TestCheckEndpoint_badStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if err := CheckEndpoint(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestCheckEndpoint_emptyURL(t *testing.T) {
	if err := CheckEndpoint(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
