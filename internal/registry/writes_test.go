package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
	"github.com/permaskills/skills/internal/manifest"
	"github.com/permaskills/skills/internal/wallet"
)

var testContentID = strings.Repeat("c", 43)

func testSkill() *manifest.Skill {
	return &manifest.Skill{
		Name:         "my-skill",
		Version:      "1.0.0",
		Description:  "does things",
		Author:       "alice",
		Tags:         []string{"git"},
		Dependencies: []manifest.Dependency{{Name: "dep", Version: "^1.0.0"}},
		ContentID:    testContentID,
	}
}

func writeClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	base := []Option{WithSigner(w), WithResultPolling(5*time.Millisecond, 200*time.Millisecond)}
	c, err := New(srv.URL, srv.URL, testProcess, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRegister_SendsSignedItem(t *testing.T) {
	var got dataitem.Item
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding item: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	})
	c := writeClient(t, h)

	id, err := c.Register(context.Background(), testSkill())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("id = %q, want msg-1", id)
	}
	if err := got.Verify(wallet.Verify); err != nil {
		t.Errorf("item does not verify: %v", err)
	}
	if got.Target != testProcess {
		t.Errorf("Target = %q, want %q", got.Target, testProcess)
	}
	want := map[string]string{
		"Action":       "Register-Skill",
		"Name":         "my-skill",
		"Version":      "1.0.0",
		"Tags":         `["git"]`,
		"Dependencies": `["dep@^1.0.0"]`,
		"Arweave-TxId": testContentID,
	}
	for name, value := range want {
		if v := got.Tags.Value(name); v != value {
			t.Errorf("tag %s = %q, want %q", name, v, value)
		}
	}
}

func TestWrite_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	c := writeClient(t, h)

	_, err := c.Update(context.Background(), testSkill())
	if !apperr.HasCode(err, apperr.CodeGateway) {
		t.Fatalf("err = %v, want gateway_error", err)
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("error %q should carry the server message", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestWrite_RejectedSignature(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	})
	c := writeClient(t, h)
	_, err := c.Register(context.Background(), testSkill())
	if apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("KindOf = %v, want Authorization", apperr.KindOf(err))
	}
}

func TestWrite_RequiresSigner(t *testing.T) {
	c, err := New("http://cu", "http://mu", testProcess)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Register(context.Background(), testSkill())
	if apperr.KindOf(err) != apperr.KindConfiguration {
		t.Errorf("KindOf = %v, want Configuration", apperr.KindOf(err))
	}
}

func TestAwaitResult_Success(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/result/msg-1") {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(envelope{})
			return
		}
		_ = json.NewEncoder(w).Encode(envelope{Messages: []message{{
			Tags: dataitem.Tags{
				{Name: "Action", Value: ActionRegistered},
				{Name: "Name", Value: "my-skill"},
				{Name: "Version", Value: "1.0.0"},
			},
		}}})
	})
	c := writeClient(t, h)

	r, err := c.AwaitResult(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if !Acknowledged(r, "my-skill", "1.0.0") {
		t.Errorf("result not acknowledged: %+v", r)
	}
	if Acknowledged(r, "my-skill", "2.0.0") {
		t.Error("acknowledged a different version")
	}
}

func TestAwaitResult_Failure(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope{Messages: []message{{
			Data: "version already exists",
			Tags: dataitem.Tags{{Name: "Action", Value: "Error"}},
		}}})
	})
	c := writeClient(t, h)

	r, err := c.AwaitResult(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if r.Kind != ResultFailure || r.Message != "version already exists" {
		t.Errorf("result = %+v", r)
	}
	if !apperr.HasCode(r.Err(), apperr.CodeRegistryError) {
		t.Errorf("Err() = %v", r.Err())
	}
}

func TestAwaitResult_NoResponse(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	c := writeClient(t, h, WithResultPolling(5*time.Millisecond, 30*time.Millisecond))

	_, err := c.AwaitResult(context.Background(), "msg-1")
	if !apperr.HasCode(err, apperr.CodeNoResponse) {
		t.Fatalf("err = %v, want no_response", err)
	}
	if !strings.Contains(err.Error(), "no response from registry") {
		t.Errorf("error = %q", err)
	}
}
