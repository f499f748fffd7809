package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBuildParams(t *testing.T) {
	q := buildParams(&queryParams{
		Q:          "after:2025/08/18 zimmer",
		MaxResults: "50",
		LabelIDs:   []string{"INBOX", "applications"},
	})

	if got := q.Get("q"); got != "after:2025/08/18 zimmer" {
		t.Fatalf("unexpected q: %q", got)
	}
	if got := q.Get("maxResults"); got != "50" {
		t.Fatalf("unexpected maxResults: %q", got)
	}

	labels := q["labelIds"]
	if len(labels) != 2 || labels[0] != "INBOX" || labels[1] != "applications" {
		t.Fatalf("unexpected labelIds: %v", labels)
	}
}

func TestBuildParamsSkipsEmptyValues(t *testing.T) {
	q := buildParams(&queryParams{Q: "after:2025/08/18"})

	if _, ok := q["maxResults"]; ok {
		t.Fatalf("did not expect maxResults, got %v", q)
	}
	if _, ok := q["labelIds"]; ok {
		t.Fatalf("did not expect labelIds, got %v", q)
	}
}

func TestSearchFollowsPagination(t *testing.T) {
	received := time.Now().Add(-time.Hour).UnixMilli()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/users/me/messages":
			if r.URL.Query().Get("pageToken") == "" {
				json.NewEncoder(w).Encode(map[string]any{
					"messages":      []map[string]string{{"id": "m1", "threadId": "t1"}},
					"nextPageToken": "page-2",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m2", "threadId": "t2"}},
			})
		case "/users/me/messages/m1", "/users/me/messages/m2":
			id := r.URL.Path[len("/users/me/messages/"):]
			json.NewEncoder(w).Encode(map[string]any{
				"id":           id,
				"internalDate": fmt.Sprintf("%d", received),
				"payload": map[string]any{
					"mimeType": "text/plain",
					"headers":  []map[string]string{{"name": "From", "value": id + "@example.com"}},
					"body":     map[string]any{"data": encodeBody("hello from " + id)},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(context.Background(), zap.NewNop(), "test-token")
	client.APIURL = server.URL
	client.HTTPClient = server.Client()

	messages, err := client.Search(&SearchParams{DaysBack: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if messages.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", messages.Len())
	}
	if found := messages.FindByID("m2"); found == nil {
		t.Fatal("expected message m2 to be fetched")
	}
	if got := messages.FindByID("m1").BodyText(); got != "hello from m1" {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestSearchBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(context.Background(), zap.NewNop(), "bad-token")
	client.APIURL = server.URL
	client.HTTPClient = server.Client()

	if _, err := client.Search(&SearchParams{}); err == nil {
		t.Fatal("expected an error for unauthorized response")
	}
}
