package httpctx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbePicksFirstReachable(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.0"}`))
	}))
	defer good.Close()

	got, err := Probe(context.Background(), []string{bad.URL, good.URL})
	if err != nil {
		t.Fatal(err)
	}
	if got != good.URL {
		t.Fatalf("probe = %s, want %s", got, good.URL)
	}
}

func TestProbeAllUnreachable(t *testing.T) {
	if _, err := Probe(context.Background(), []string{"http://127.0.0.1:1"}); err == nil {
		t.Fatal("expected error when no candidate is reachable")
	}
}
