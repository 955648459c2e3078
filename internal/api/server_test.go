package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/argus-sensing/sentinel.vision/internal/testutil"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

type fakePipeline struct {
	state   string
	metrics vision.MetricsSnapshot
}

func (p *fakePipeline) State() string                   { return p.state }
func (p *fakePipeline) Metrics() vision.MetricsSnapshot { return p.metrics }

type fakeEventReader struct {
	events []vision.Event
	err    error
	limit  int
}

func (r *fakeEventReader) RecentEvents(ctx context.Context, limit int) ([]vision.Event, error) {
	r.limit = limit
	return r.events, r.err
}

func newTestServer(pipeline Pipeline, events EventReader) *http.ServeMux {
	mux := http.NewServeMux()
	NewServer(pipeline, events).Routes(mux)
	return mux
}

func TestHandleStatus(t *testing.T) {
	p := &fakePipeline{
		state: "running",
		metrics: vision.MetricsSnapshot{
			FramesCaptured: 1200,
			EventsCreated:  3,
		},
	}
	mux := newTestServer(p, nil)

	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp statusResponse
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	if resp.State != "running" {
		t.Errorf("state = %q, want running", resp.State)
	}
	if resp.Metrics.FramesCaptured != 1200 || resp.Metrics.EventsCreated != 3 {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
}

func TestHandleStatus_MethodNotAllowed(t *testing.T) {
	mux := newTestServer(&fakePipeline{state: "running"}, nil)
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodPost, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestHandleEvents(t *testing.T) {
	reader := &fakeEventReader{
		events: []vision.Event{
			{ID: "evt-1", Timestamp: time.Now(), Label: "person", Confidence: 0.92},
		},
	}
	mux := newTestServer(&fakePipeline{state: "running"}, reader)

	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/events?limit=10"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if reader.limit != 10 {
		t.Errorf("limit passed to store = %d, want 10", reader.limit)
	}

	var events []vision.Event
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&events))
	if len(events) != 1 || events[0].ID != "evt-1" {
		t.Errorf("events = %+v", events)
	}
}

func TestHandleEvents_DefaultLimit(t *testing.T) {
	reader := &fakeEventReader{}
	mux := newTestServer(&fakePipeline{state: "running"}, reader)

	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/events"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if reader.limit != defaultEventLimit {
		t.Errorf("limit = %d, want %d", reader.limit, defaultEventLimit)
	}

	// An empty store serialises as an empty array, not null.
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestHandleEvents_BadLimit(t *testing.T) {
	mux := newTestServer(&fakePipeline{state: "running"}, &fakeEventReader{})
	for _, q := range []string{"limit=0", "limit=-5", "limit=9999", "limit=abc"} {
		rec := testutil.NewTestRecorder()
		mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/events?"+q))
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}
}

func TestHandleEvents_NoStore(t *testing.T) {
	mux := newTestServer(&fakePipeline{state: "running"}, nil)
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/events"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestHandleEvents_StoreError(t *testing.T) {
	reader := &fakeEventReader{err: errors.New("database is locked")}
	mux := newTestServer(&fakePipeline{state: "running"}, reader)
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/events"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestHandleVersion(t *testing.T) {
	mux := newTestServer(&fakePipeline{state: "running"}, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/version"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp map[string]string
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	if _, ok := resp["version"]; !ok {
		t.Error("missing version field")
	}
}
