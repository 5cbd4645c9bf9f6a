package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"healthnav/internal/model"
	"healthnav/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func newTestWorker(rs *recordStore, client *http.Client, max int) *Worker {
	return &Worker{Store: rs, HTTP: client, Stop: make(chan struct{}), MaxAttempts: max, Log: logr.Discard()}
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 3)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "", "allocation.completed", srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != "allocation.completed" {
		t.Fatalf("missing event type header: %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig, time.Minute, time.Now()) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 1)
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "", "route.planned", srv.URL, "", []byte(`{}`))
	w.processOnce()
	if len(rs.fails) == 0 {
		t.Fatalf("expected fail recorded")
	}
	if rs.fails[0].Code != 500 || rs.fails[0].LastErr == "" {
		t.Fatalf("bad fail record: %+v", rs.fails[0])
	}
	if st, _, _ := rs.Memory.DeliveryStatus(id); st != "failed" {
		t.Fatalf("want failed, got %s", st)
	}

	rs2 := &recordStore{Memory: store.NewMemory()}
	w2 := newTestWorker(rs2, srv.Client(), 3)
	_, _ = rs2.Memory.EnqueueWebhook(context.Background(), "", "route.planned", srv.URL, "", []byte(`{}`))
	w2.processOnce()
	if len(rs2.marks) != 1 || rs2.marks[0].Success || len(rs2.fails) != 0 {
		t.Fatalf("expected a scheduled retry, marks=%+v fails=%+v", rs2.marks, rs2.fails)
	}
}

func TestPublisherEmitsToMatchingSubscriptions(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{"allocation.completed"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{"route.planned"}})

	NewPublisher(m, logr.Discard()).Emit(ctx, "allocation.completed", map[string]any{"batchId": "b1"})

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].URL != "http://a" {
		t.Fatalf("unexpected deliveries: %+v", due)
	}
	var body map[string]any
	if err := json.Unmarshal(due[0].Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["type"] != "allocation.completed" || body["data"].(map[string]any)["batchId"] != "b1" {
		t.Fatalf("bad payload: %v", body)
	}
}

func TestSignatureWindow(t *testing.T) {
	body := []byte(`{"type":"route.planned"}`)
	at := time.Unix(1712000000, 0)
	sig := SignHMAC("k", at, body)
	if !strings.HasPrefix(sig, "t=1712000000,v1=") {
		t.Fatalf("unexpected header %q", sig)
	}
	if !VerifyHMAC("k", body, sig, 5*time.Minute, at.Add(time.Minute)) {
		t.Fatal("fresh signature rejected")
	}
	if VerifyHMAC("k", body, sig, 5*time.Minute, at.Add(10*time.Minute)) {
		t.Fatal("stale signature accepted")
	}
	if VerifyHMAC("other", body, sig, 0, at) || VerifyHMAC("k", []byte(`{}`), sig, 0, at) {
		t.Fatal("wrong key or body accepted")
	}
	if VerifyHMAC("k", body, "v1=00", 0, at) {
		t.Fatal("missing timestamp accepted")
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatalf("unexpected backoff")
	}
	if nextBackoff(50) != 1024*time.Second {
		t.Fatalf("backoff should cap the exponent")
	}
}
