package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paybox/internal/auth"
	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/retry"
	"github.com/mbd888/paybox/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDispatcher allows loopback targets and retries without real waits.
func newTestDispatcher(store Store) *Dispatcher {
	return NewDispatcher(store, quietLogger()).
		WithEndpointPolicy(security.EndpointPolicy{AllowPrivate: true}).
		WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
}

func subscribe(t *testing.T, store Store, id, acquirerID, url string, events ...EventType) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &Subscription{
		ID:         id,
		AcquirerID: acquirerID,
		URL:        url,
		Secret:     "secret-" + id,
		Events:     events,
		Active:     true,
		CreatedAt:  time.Now(),
	}))
}

func doneEvent() *Event {
	return &Event{
		ID:        "evt_1",
		Type:      EventTransactionDone,
		Timestamp: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		Transaction: &paybox.Transaction{
			ID:         "tx_1",
			Reference:  "order-42",
			AcquirerID: "acq_1",
			Amount:     "12.50",
			State:      paybox.StateDone,
		},
	}
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func TestEventForState(t *testing.T) {
	cases := map[paybox.State]EventType{
		paybox.StateDone:    EventTransactionDone,
		paybox.StatePending: EventTransactionPending,
		paybox.StateCancel:  EventTransactionCancel,
		paybox.StateError:   EventTransactionError,
	}
	for state, want := range cases {
		got, ok := EventForState(state)
		assert.True(t, ok, state)
		assert.Equal(t, want, got)
		assert.True(t, got.Valid())
	}
	_, ok := EventForState(paybox.StateDraft)
	assert.False(t, ok)
	assert.False(t, EventType("payment.received").Valid())
}

func TestSubscription_Wants(t *testing.T) {
	sub := &Subscription{Active: true, Events: []EventType{EventTransactionDone}}
	assert.True(t, sub.Wants(EventTransactionDone))
	assert.False(t, sub.Wants(EventTransactionError))
	sub.Active = false
	assert.False(t, sub.Wants(EventTransactionDone))
}

func TestSign(t *testing.T) {
	sig := Sign([]byte(`{"id":"evt_1"}`), "secret")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign([]byte(`{"id":"evt_1"}`), "secret"))
	assert.NotEqual(t, sig, Sign([]byte(`{"id":"evt_1"}`), "other"))
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	subscribe(t, store, "wh_1", "acq_1", "https://shop.example.com/hook", EventTransactionDone)
	subscribe(t, store, "wh_2", "acq_2", "https://other.example.com/hook", EventTransactionDone)

	got, err := store.Get(ctx, "wh_1")
	require.NoError(t, err)
	assert.Equal(t, "acq_1", got.AcquirerID)

	got.Events[0] = EventTransactionError
	again, _ := store.Get(ctx, "wh_1")
	assert.Equal(t, EventTransactionDone, again.Events[0], "store returns copies")

	list, err := store.ListByAcquirer(ctx, "acq_1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	got.LastError = "status 500"
	require.NoError(t, store.Update(ctx, got))
	again, _ = store.Get(ctx, "wh_1")
	assert.Equal(t, "status 500", again.LastError)

	require.NoError(t, store.Delete(ctx, "wh_1"))
	_, err = store.Get(ctx, "wh_1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "wh_1"), ErrSubscriptionNotFound)
	assert.ErrorIs(t, store.Update(ctx, got), ErrSubscriptionNotFound)
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

func TestDispatch_DeliversSignedEvent(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, EventTransactionDone)

	d := newTestDispatcher(store)
	n, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "transaction.done", headers.Get("X-Paybox-Event"))
	assert.Equal(t, "evt_1", headers.Get("X-Paybox-Delivery"))
	assert.Equal(t, "1777888800", headers.Get("X-Paybox-Timestamp"))
	assert.Equal(t, Sign(body, "secret-wh_1"), headers.Get("X-Paybox-Signature"))

	var got Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "order-42", got.Transaction.Reference)

	sub, _ := store.Get(context.Background(), "wh_1")
	assert.NotNil(t, sub.LastSuccess)
	assert.Zero(t, sub.ConsecutiveFailures)
}

func TestDispatch_TracesDelivery(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, EventTransactionDone)
	d := newTestDispatcher(store)
	_, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	d.Wait()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "webhooks.deliver", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("webhook.id", "wh_1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("transaction.id", "tx_1"))
}

func TestDispatcher_GoIsCoveredByWait(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())
	release := make(chan struct{})
	var done atomic.Bool
	d.Go(func() {
		<-release
		done.Store(true)
	})

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned before tracked work finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-waited
	assert.True(t, done.Load())
}

func TestDispatch_Filters(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_done", "acq_1", server.URL, EventTransactionDone)
	subscribe(t, store, "wh_error", "acq_1", server.URL, EventTransactionError)
	subscribe(t, store, "wh_other", "acq_2", server.URL, EventTransactionDone)
	subscribe(t, store, "wh_off", "acq_1", server.URL, EventTransactionDone)
	off, _ := store.Get(context.Background(), "wh_off")
	off.Active = false
	require.NoError(t, store.Update(context.Background(), off))

	d := newTestDispatcher(store)
	n, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), received.Load())
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, EventTransactionDone)

	d := newTestDispatcher(store)
	_, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, int32(3), calls.Load())
	sub, _ := store.Get(context.Background(), "wh_1")
	assert.Empty(t, sub.LastError)
	assert.NotNil(t, sub.LastSuccess)
}

func TestDispatch_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, EventTransactionDone)

	d := newTestDispatcher(store)
	_, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, int32(1), calls.Load())
	sub, _ := store.Get(context.Background(), "wh_1")
	assert.Equal(t, "status 400", sub.LastError)
	assert.Equal(t, 1, sub.ConsecutiveFailures)
	assert.True(t, sub.Active)
}

func TestDispatch_DisablesAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, EventTransactionDone)

	d := newTestDispatcher(store).WithMaxFailures(2)
	for i := 0; i < 2; i++ {
		_, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
		require.NoError(t, err)
		d.Wait()
	}

	sub, _ := store.Get(context.Background(), "wh_1")
	assert.False(t, sub.Active)
	assert.Equal(t, 2, sub.ConsecutiveFailures)

	n, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatch_BlockedEndpoint(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, EventTransactionDone)

	d := NewDispatcher(store, quietLogger())
	_, err := d.Dispatch(context.Background(), "acq_1", doneEvent())
	require.NoError(t, err)
	d.Wait()

	assert.Zero(t, calls.Load())
	sub, _ := store.Get(context.Background(), "wh_1")
	assert.Contains(t, sub.LastError, "endpoint not allowed")
}

// ---------------------------------------------------------------------------
// Emitter
// ---------------------------------------------------------------------------

func TestEmitter_EmitTransactionChanged(t *testing.T) {
	events := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events <- r.Header.Get("X-Paybox-Event")
	}))
	defer server.Close()

	store := NewMemoryStore()
	subscribe(t, store, "wh_1", "acq_1", server.URL, AllEvents...)
	d := newTestDispatcher(store)
	e := NewEmitter(d, quietLogger())

	e.EmitTransactionChanged(&paybox.Transaction{ID: "tx_1", AcquirerID: "acq_1", State: paybox.StatePending})
	e.EmitTransactionChanged(&paybox.Transaction{ID: "tx_1", AcquirerID: "acq_1", State: paybox.StateDraft})
	d.Wait()

	require.Len(t, events, 1)
	assert.Equal(t, "transaction.pending", <-events)

	var nilEmitter *Emitter
	nilEmitter.EmitTransactionChanged(&paybox.Transaction{State: paybox.StateDone})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func newTestRouter(store Store, d *Dispatcher, acquirerID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if acquirerID != "" {
			c.Set(auth.ContextKeyAcquirerID, acquirerID)
		}
		c.Next()
	})
	NewHandler(store, d).RegisterRoutes(r.Group("/v1"))
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlers_CreateListDelete(t *testing.T) {
	store := NewMemoryStore()
	d := newTestDispatcher(store)
	r := newTestRouter(store, d, "acq_1")

	w := doJSON(r, http.MethodPost, "/v1/webhooks", `{"url":"https://shop.example.com/hook"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Webhook Subscription `json:"webhook"`
		Secret  string       `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Secret, 64)
	assert.Equal(t, AllEvents, created.Webhook.Events)
	assert.NotContains(t, w.Body.String(), `"Secret"`)

	w = doJSON(r, http.MethodGet, "/v1/webhooks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Webhook.ID)
	assert.NotContains(t, w.Body.String(), created.Secret)

	other := newTestRouter(store, d, "acq_2")
	w = doJSON(other, http.MethodDelete, "/v1/webhooks/"+created.Webhook.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodDelete, "/v1/webhooks/"+created.Webhook.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(r, http.MethodDelete, "/v1/webhooks/"+created.Webhook.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_CreateRejections(t *testing.T) {
	store := NewMemoryStore()
	strict := NewDispatcher(store, quietLogger())
	r := newTestRouter(store, strict, "acq_1")

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing url", `{}`, "invalid_request"},
		{"unknown event", `{"url":"https://shop.example.com/hook","events":["payment.received"]}`, "invalid_event"},
		{"loopback", `{"url":"http://127.0.0.1:8080/hook"}`, "invalid_url"},
		{"bad scheme", `{"url":"ftp://shop.example.com/hook"}`, "invalid_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/v1/webhooks", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}

	anonymous := newTestRouter(store, strict, "")
	w := doJSON(anonymous, http.MethodGet, "/v1/webhooks", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
