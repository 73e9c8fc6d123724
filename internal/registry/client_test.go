package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/clock"
	"github.com/permaskills/skills/internal/dataitem"
)

const testProcess = "proc-123"

// fakeRegistry serves dry-run queries from a handler keyed by Action.
type fakeRegistry struct {
	t       *testing.T
	calls   atomic.Int32
	mu      sync.Mutex
	lastReq dryRunRequest
	reply   func(req dryRunRequest, call int) (int, any)
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/dry-run" {
		http.NotFound(w, r)
		return
	}
	if got := r.URL.Query().Get("process-id"); got != testProcess {
		f.t.Errorf("process-id = %q, want %q", got, testProcess)
	}
	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decoding dry-run body: %v", err)
	}
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()

	call := int(f.calls.Add(1))
	status, body := f.reply(req, call)
	if status == 0 {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		return
	}
	w.WriteHeader(status)
	if s, ok := body.(string); ok {
		_, _ = w.Write([]byte(s))
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeRegistry) last() dryRunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func success(data any, tags ...dataitem.Tag) envelope {
	b, _ := json.Marshal(data)
	return envelope{Messages: []message{{Data: string(b), Tags: tags}}}
}

func newTestClient(t *testing.T, f *fakeRegistry, opts ...Option) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	base := []Option{WithReadPolicy(time.Second, 3, time.Millisecond)}
	c, err := New(srv.URL, srv.URL, testProcess, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_MissingSettings(t *testing.T) {
	_, err := New("", "http://mu", "pid")
	if apperr.KindOf(err) != apperr.KindConfiguration {
		t.Fatalf("KindOf = %v, want Configuration", apperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "registry.cu_url") {
		t.Errorf("error %q should name the setting", err)
	}
}

func TestGet_CachedWithinTTL(t *testing.T) {
	f := &fakeRegistry{reply: func(req dryRunRequest, _ int) (int, any) {
		return 200, success(map[string]any{"name": "my-skill", "version": "1.0.0"})
	}}
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestClient(t, f, WithClock(fc))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := c.Get(ctx, "my-skill", "")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if s.Version != "1.0.0" {
			t.Errorf("Version = %q, want 1.0.0", s.Version)
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("calls within TTL = %d, want 1", got)
	}

	fc.Advance(DefaultCacheTTL)
	if _, err := c.Get(ctx, "my-skill", ""); err != nil {
		t.Fatalf("Get after TTL: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("calls after TTL = %d, want 2", got)
	}
}

func TestGet_SendsTags(t *testing.T) {
	f := &fakeRegistry{reply: func(req dryRunRequest, _ int) (int, any) {
		return 200, success(map[string]any{"name": "a", "version": "2.0.0"})
	}}
	c := newTestClient(t, f)
	if _, err := c.Get(context.Background(), "a", "2.0.0"); err != nil {
		t.Fatal(err)
	}
	req := f.last()
	if req.Target != testProcess {
		t.Errorf("Target = %q, want %q", req.Target, testProcess)
	}
	if req.Tags.Value("Action") != "Get-Skill" || req.Tags.Value("Name") != "a" || req.Tags.Value("Version") != "2.0.0" {
		t.Errorf("unexpected tags %+v", req.Tags)
	}
}

func TestGet_NotFoundIsCached(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) {
		return 200, envelope{Messages: []message{}}
	}}
	c := newTestClient(t, f)

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "ghost", "")
		if !apperr.HasCode(err, apperr.CodeNotFound) {
			t.Fatalf("err = %v, want not_found", err)
		}
		if apperr.KindOf(err) != apperr.KindNetwork {
			t.Errorf("KindOf = %v, want Network", apperr.KindOf(err))
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestGet_FailureNotRetried(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) {
		return 200, envelope{Messages: []message{{
			Tags: dataitem.Tags{{Name: "Action", Value: "Error"}, {Name: "Error", Value: "boom"}},
		}}}
	}}
	c := newTestClient(t, f)

	_, err := c.Get(context.Background(), "a", "")
	if !apperr.HasCode(err, apperr.CodeRegistryError) {
		t.Fatalf("err = %v, want registry_error", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should carry the registry message", err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSearch_RetriesTransientFailures(t *testing.T) {
	f := &fakeRegistry{reply: func(_ dryRunRequest, call int) (int, any) {
		if call < 3 {
			return 503, "busy"
		}
		return 200, success([]map[string]any{{"name": "a", "version": "1.0.0"}})
	}}
	c := newTestClient(t, f)

	skills, err := c.Search(context.Background(), "lint")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(skills) != 1 || skills[0].Name != "a" {
		t.Errorf("skills = %+v", skills)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if got := f.last().Tags.Value("Query"); got != "lint" {
		t.Errorf("Query tag = %q, want lint", got)
	}
}

func TestSearch_GivesUpAfterMaxAttempts(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) { return 502, "bad gateway" }}
	c := newTestClient(t, f)

	_, err := c.Search(context.Background(), "x")
	if !apperr.HasCode(err, apperr.CodeGateway) {
		t.Fatalf("err = %v, want gateway_error", err)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestSearch_EmptyIsNotAnError(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) {
		return 200, envelope{}
	}}
	c := newTestClient(t, f)
	skills, err := c.Search(context.Background(), "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 0 {
		t.Errorf("skills = %v, want empty", skills)
	}
}

func TestQuery_TimeoutNotRetried(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) { return 0, nil }}
	c := newTestClient(t, f, WithReadPolicy(50*time.Millisecond, 3, time.Millisecond))

	_, err := c.Search(context.Background(), "slow")
	if !apperr.HasCode(err, apperr.CodeTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestList_Paginates(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) {
		return 200, success(map[string]any{
			"skills": []map[string]any{{"name": "a"}, {"name": "b"}},
			"total":  7,
		})
	}}
	c := newTestClient(t, f)

	page, err := c.List(context.Background(), ListOptions{Limit: 2, Offset: 4, Author: "alice", Tags: []string{"git"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 7 || len(page.Skills) != 2 {
		t.Errorf("page = %+v", page)
	}
	tags := f.last().Tags
	if tags.Value("Limit") != "2" || tags.Value("Offset") != "4" || tags.Value("Author") != "alice" || tags.Value("Tags") != `["git"]` {
		t.Errorf("unexpected tags %+v", tags)
	}
}

func TestInfo(t *testing.T) {
	f := &fakeRegistry{reply: func(dryRunRequest, int) (int, any) {
		return 200, success(map[string]any{"name": "Permaskills Registry", "version": "1.2.0", "skillCount": 42})
	}}
	c := newTestClient(t, f)
	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "Permaskills Registry" || info.SkillCount != 42 {
		t.Errorf("info = %+v", info)
	}
}
