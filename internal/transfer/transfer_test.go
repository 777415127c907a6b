package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/httpctx"
	"github.com/chimefrb/workflow/internal/work"
)

func workWithArchiveResults(archiveResults bool) (*work.Work, error) {
	w, err := work.New("p", "chime", "tester", work.WithCommand([]string{"echo"}))
	if err != nil {
		return nil, err
	}
	w.Config.Archive.Results = archiveResults
	return w, nil
}

func successRow(id string, archiveResults bool) map[string]any {
	return map[string]any{
		"pipeline": "p", "id": id, "site": "chime", "user": "u",
		"function": "p.run", "status": "success",
		"config": map[string]any{"archive": map[string]any{"results": archiveResults}},
	}
}

func TestTickTransfersAndDeletes(t *testing.T) {
	var depositCalled, deleteCalled int32

	bucketsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/view":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			q, _ := body["query"].(map[string]any)
			status, _ := q["status"].(string)
			switch status {
			case "success":
				json.NewEncoder(w).Encode([]map[string]any{successRow("id-1", true), successRow("id-2", false)})
			case "failure":
				json.NewEncoder(w).Encode([]map[string]any{})
			default:
				json.NewEncoder(w).Encode([]map[string]any{})
			}
		case r.Method == http.MethodDelete:
			atomic.AddInt32(&deleteCalled, 1)
			w.Write([]byte("true"))
		default:
			w.Write([]byte("true"))
		}
	}))
	defer bucketsSrv.Close()

	resultsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/deposit" {
			atomic.AddInt32(&depositCalled, 1)
			w.Write([]byte("true"))
			return
		}
		w.Write([]byte("true"))
	}))
	defer resultsSrv.Close()

	ws := &config.Workspace{}
	ws.Config.Archive.Results = true

	d := New(
		httpctx.NewBuckets(httpctx.Options{BaseURL: bucketsSrv.URL}),
		httpctx.NewResults(httpctx.Options{BaseURL: resultsSrv.URL}),
		ws,
		0, 0, 0, nil,
	)

	counts, err := d.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Transfered != 1 {
		t.Fatalf("transfered = %d, want 1", counts.Transfered)
	}
	if counts.Deleted != 2 {
		t.Fatalf("deleted = %d, want 2 (transferred id-1 + delete-only id-2)", counts.Deleted)
	}
	if atomic.LoadInt32(&depositCalled) != 1 {
		t.Fatalf("expected exactly one deposit call, got %d", depositCalled)
	}
	if atomic.LoadInt32(&deleteCalled) != 1 {
		t.Fatalf("expected exactly one delete_ids call, got %d", deleteCalled)
	}
}

func TestPartitionTransferRequiresWorkspaceAllow(t *testing.T) {
	d := &Daemon{workspace: &config.Workspace{}}
	w, err := workWithArchiveResults(true)
	if err != nil {
		t.Fatal(err)
	}
	if d.partitionTransfer(w) {
		t.Fatal("expected delete-only when workspace disallows archival even if Work requests it")
	}

	d.workspace.Config.Archive.Results = true
	if !d.partitionTransfer(w) {
		t.Fatal("expected transfer candidate once workspace allows archival")
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 {
		t.Fatalf("dedupe = %v", got)
	}
}
