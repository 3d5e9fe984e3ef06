package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nicklamont/slack-chat-migrator/internal/retryhttp"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	caller := retryhttp.NewCaller(retryhttp.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, slog.Default())
	c := NewClient("test-token", caller, slog.Default())
	c.SetBaseURL(srv.URL)
	return c
}

func TestCreateSpace(t *testing.T) {
	var gotReq SpaceRequest
	var gotAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/spaces" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(Space{Name: "spaces/ABC", DisplayName: gotReq.DisplayName})
	})

	req := NewSpaceRequest("general", true, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	space, err := c.CreateSpace(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateSpace: %v", err)
	}
	if space.Name != "spaces/ABC" {
		t.Errorf("got space %q", space.Name)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("got auth %q", gotAuth)
	}
	if !gotReq.ImportMode || gotReq.SpaceType != "SPACE" || gotReq.SpaceThreadingState != "THREADED_MESSAGES" {
		t.Errorf("import-mode fields wrong: %+v", gotReq)
	}
	if gotReq.CreateTime != "2020-06-01T00:00:00Z" {
		t.Errorf("got createTime %q", gotReq.CreateTime)
	}
	if !gotReq.ExternalUserAllowed {
		t.Error("externalUserAllowed not set")
	}
}

func TestCreateMessage_QueryAndBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("messageId") != "client-abc" {
			t.Errorf("got messageId %q", q.Get("messageId"))
		}
		if q.Get("messageReplyOption") != "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD" {
			t.Errorf("got messageReplyOption %q", q.Get("messageReplyOption"))
		}
		var req MessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Thread == nil || req.Thread.ThreadKey != "thread-xyz" {
			t.Errorf("thread key missing: %+v", req.Thread)
		}
		json.NewEncoder(w).Encode(Message{
			Name:   "spaces/ABC/messages/M1",
			Thread: Thread{Name: "spaces/ABC/threads/T1"},
		})
	})

	msg, err := c.CreateMessage(context.Background(), "spaces/ABC", "client-abc", MessageRequest{
		CreateTime: "2021-01-01T00:00:00Z",
		Text:       "hello",
		Thread:     &Thread{ThreadKey: "thread-xyz"},
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.Thread.Name != "spaces/ABC/threads/T1" {
		t.Errorf("got thread %q", msg.Thread.Name)
	}
}

func TestCreateMessage_RetriesServerError(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "internal", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Message{Name: "spaces/ABC/messages/M1"})
	})

	_, err := c.CreateMessage(context.Background(), "spaces/ABC", "client-abc", MessageRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}

func TestCreateMessage_ConflictSurfacesAsStatusError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"status": "ALREADY_EXISTS"}}`, http.StatusConflict)
	})

	_, err := c.CreateMessage(context.Background(), "spaces/ABC", "client-abc", MessageRequest{Text: "hi"})
	if !retryhttp.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestFindSpace_Paged(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"spaces":        []Space{{Name: "spaces/A", DisplayName: "random"}},
				"nextPageToken": "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"spaces": []Space{{Name: "spaces/B", DisplayName: "general"}},
		})
	})

	space, found, err := c.FindSpace(context.Background(), "general")
	if err != nil {
		t.Fatalf("FindSpace: %v", err)
	}
	if !found || space.Name != "spaces/B" {
		t.Errorf("got (%+v, %v)", space, found)
	}

	_, found, err = c.FindSpace(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("FindSpace: %v", err)
	}
	if found {
		t.Error("nonexistent space reported found")
	}
}

func TestCompleteImport(t *testing.T) {
	var gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	if err := c.CompleteImport(context.Background(), "spaces/ABC"); err != nil {
		t.Fatalf("CompleteImport: %v", err)
	}
	if gotPath != "/spaces/ABC:completeImport" {
		t.Errorf("got path %q", gotPath)
	}
}

func TestCreateHistoricalMembership_Body(t *testing.T) {
	var got membershipRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	join := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	leave := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	err := c.CreateHistoricalMembership(context.Background(), "spaces/ABC", "alice@corp.example", join, leave)
	if err != nil {
		t.Fatalf("CreateHistoricalMembership: %v", err)
	}
	if got.Member.Name != "users/alice@corp.example" || got.Member.Type != "HUMAN" {
		t.Errorf("member wrong: %+v", got.Member)
	}
	if got.CreateTime != "2020-01-01T00:00:00Z" || got.DeleteTime != "2021-01-01T00:00:00Z" {
		t.Errorf("times wrong: %s / %s", got.CreateTime, got.DeleteTime)
	}
}

func TestCreateMembership_NoTimes(t *testing.T) {
	var raw map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.CreateMembership(context.Background(), "spaces/ABC", "alice@corp.example"); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	if _, ok := raw["createTime"]; ok {
		t.Error("live membership must not carry createTime")
	}
	if _, ok := raw["deleteTime"]; ok {
		t.Error("live membership must not carry deleteTime")
	}
}

func TestSetExternalUserAllowed(t *testing.T) {
	var gotMethod, gotMask string
	var body map[string]bool
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotMask = r.URL.Query().Get("updateMask")
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.SetExternalUserAllowed(context.Background(), "spaces/ABC", true); err != nil {
		t.Fatalf("SetExternalUserAllowed: %v", err)
	}
	if gotMethod != http.MethodPatch || gotMask != "externalUserAllowed" || !body["externalUserAllowed"] {
		t.Errorf("got %s mask=%q body=%v", gotMethod, gotMask, body)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
