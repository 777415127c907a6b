package httpctx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chimefrb/workflow/internal/werrors"
	"github.com/chimefrb/workflow/internal/work"
)

func TestClampTimeout(t *testing.T) {
	cases := []struct {
		in   Options
		want string
	}{
		{Options{}, "15s"},
		{Options{Timeout: 1}, "500ms"},
		{Options{Timeout: 1 << 40}, "1m0s"},
	}
	for _, c := range cases {
		if got := c.in.clampTimeout().String(); got != c.want {
			t.Errorf("clampTimeout(%v) = %s, want %s", c.in.Timeout, got, c.want)
		}
	}
}

func TestResolveTokenPrecedence(t *testing.T) {
	t.Setenv("WORKFLOW_HTTP_TOKEN", "http-token")
	t.Setenv("WORKFLOW_TOKEN", "token")
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("GITHUB_PAT", "gh-pat")

	if got := resolveToken("explicit"); got != "explicit" {
		t.Fatalf("explicit token not preferred: %s", got)
	}
	if got := resolveToken(""); got != "http-token" {
		t.Fatalf("WORKFLOW_HTTP_TOKEN not preferred: %s", got)
	}
}

func TestBucketsWithdrawRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/work/withdraw" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		wk, err := work.New("test-pipeline", "chime", "tester", work.WithCommand([]string{"echo"}))
		if err != nil {
			t.Fatal(err)
		}
		data, _ := wk.ToJSON()
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer srv.Close()

	b := NewBuckets(Options{BaseURL: srv.URL})
	got, err := b.Withdraw(context.Background(), WithdrawFilter{Pipeline: "test-pipeline"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Pipeline != "test-pipeline" {
		t.Fatalf("pipeline = %s", got.Pipeline)
	}
}

func TestDoClassifiesStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	err := c.do(context.Background(), http.MethodGet, "/x", nil, nil)
	if !errors.Is(err, werrors.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for 400, got %v", err)
	}
}

func TestDeleteManyForceSkipsPrompt(t *testing.T) {
	var viewed, deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/view":
			viewed = true
			wk, err := work.New("test-pipeline", "chime", "tester", work.WithCommand([]string{"echo"}))
			if err != nil {
				t.Fatal(err)
			}
			data, _ := wk.ToJSON()
			var m map[string]any
			json.Unmarshal(data, &m)
			w.Header().Set("Content-Type", "application/json")
			out, _ := json.Marshal([]map[string]any{m})
			w.Write(out)
		case r.Method == http.MethodDelete:
			deleted = true
			w.Write([]byte("true"))
		default:
			w.Write([]byte("null"))
		}
	}))
	defer srv.Close()

	b := NewBuckets(Options{BaseURL: srv.URL})
	ok, err := b.DeleteMany(context.Background(), "test-pipeline", "failure", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected DeleteMany to report success")
	}
	if !viewed || !deleted {
		t.Fatalf("viewed=%v deleted=%v", viewed, deleted)
	}
}

func TestDeleteManyNoCandidatesSkipsDelete(t *testing.T) {
	var deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = true
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	b := NewBuckets(Options{BaseURL: srv.URL})
	ok, err := b.DeleteMany(context.Background(), "test-pipeline", "", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no-op when nothing matches")
	}
	if deleted {
		t.Fatal("DeleteIDs should not be called when there are no candidates")
	}
}

func TestParseDepositResponse(t *testing.T) {
	var raw any
	json.Unmarshal([]byte(`["a","b"]`), &raw)
	ids, ok, err := parseDepositResponse(raw, true)
	if err != nil || !ok || len(ids) != 2 {
		t.Fatalf("ids=%v ok=%v err=%v", ids, ok, err)
	}

	json.Unmarshal([]byte(`true`), &raw)
	ids, ok, err = parseDepositResponse(raw, false)
	if err != nil || !ok || ids != nil {
		t.Fatalf("ids=%v ok=%v err=%v", ids, ok, err)
	}
}
