package brandloom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ============================================================================
// Request plumbing
// ============================================================================

func TestClientAuthAndErrors(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/brand-assets/missing":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"asset not found"}`)
		default:
			fmt.Fprint(w, `{"id":"a1","name":"logo","kind":"logo"}`)
		}
	}))
	defer srv.Close()

	client := NewClient("bl-test-key", WithBaseURL(srv.URL))

	asset, err := client.GetAsset(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if asset.Name != "logo" {
		t.Errorf("expected name logo, got %q", asset.Name)
	}
	if gotAuth != "Bearer bl-test-key" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}

	_, err = client.GetAsset(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if want := `HTTP 404: {"error":"asset not found"}`; err.Error() != want {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestClientListQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL))
	_, err := client.ListApprovals(context.Background(), "pending", &ListOptions{Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("ListApprovals: %v", err)
	}
	if gotQuery != "limit=10&offset=20&status=pending" {
		t.Errorf("unexpected query string: %q", gotQuery)
	}
}

// ============================================================================
// Content generation
// ============================================================================

func TestGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ai/content-generation" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req GenerationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Topic != "spring sale" {
			t.Errorf("topic not forwarded: %q", req.Topic)
		}
		fmt.Fprint(w, `{"id":"gen-1","status":"complete","variants":[{"id":"v1","body":"Spring into savings!"}]}`)
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL))
	result, err := client.GenerateContent(context.Background(), &GenerationRequest{
		Type:  "social_post",
		Topic: "spring sale",
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if len(result.Variants) != 1 || result.Variants[0].Body != "Spring into savings!" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGenerateContentStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("stream") != "true" {
			t.Error("stream flag missing")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"index\":0,\"delta\":\"Spring \"}\n")
		fmt.Fprint(w, "ignored heartbeat line\n")
		fmt.Fprint(w, "data: {malformed json\n")
		fmt.Fprint(w, "data: {\"index\":1,\"delta\":\"sale!\"}\n")
		fmt.Fprint(w, "data: {\"index\":2,\"done\":true}\n")
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL))

	var text string
	var chunks int
	err := client.GenerateContentStream(context.Background(), &GenerationRequest{Topic: "spring sale"}, func(c GenerationChunk) {
		chunks++
		text += c.Delta
	})
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	if text != "Spring sale!" {
		t.Errorf("assembled text %q", text)
	}
	// The malformed line is skipped, the done chunk still arrives.
	if chunks != 3 {
		t.Errorf("expected 3 chunks, got %d", chunks)
	}
}

// ============================================================================
// Approvals
// ============================================================================

func TestApprovalFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/approvals":
			fmt.Fprint(w, `{"id":"ap-1","contentId":"post-1","status":"pending"}`)
		case r.Method == "PUT" && r.URL.Path == "/api/approvals/ap-1":
			var d ApprovalDecision
			if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Status != "approved" {
				t.Errorf("bad decision body: %+v err=%v", d, err)
			}
			fmt.Fprint(w, `{"id":"ap-1","contentId":"post-1","status":"approved","reviewer":"dana"}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient("key", WithBaseURL(srv.URL))

	approval, err := client.SubmitForApproval(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("SubmitForApproval: %v", err)
	}
	if approval.Status != "pending" {
		t.Errorf("expected pending, got %q", approval.Status)
	}

	decided, err := client.DecideApproval(context.Background(), "ap-1", ApprovalDecision{Status: "approved", Comment: "ship it"})
	if err != nil {
		t.Fatalf("DecideApproval: %v", err)
	}
	if decided.Status != "approved" || decided.Reviewer != "dana" {
		t.Errorf("unexpected approval: %+v", decided)
	}
}
