package uploads_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/uploadmgr/internal/models"
	"github.com/aura-webinar/uploadmgr/internal/testsupport"
	"github.com/aura-webinar/uploadmgr/internal/uploads"
	"github.com/aura-webinar/uploadmgr/pkg/queue"
)

const openTime = "2024-03-05T21:10:00+08:00"

type fixture struct {
	store    *testsupport.MemoryStore
	queue    *queue.Queue[*models.RecordingEvent]
	progress *uploads.Progress
	handler  *uploads.Handler
	router   *gin.Engine
}

func newFixture(t *testing.T, policy queue.Policy, capacity int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:    testsupport.NewMemoryStore(),
		queue:    queue.New[*models.RecordingEvent](capacity, policy),
		progress: uploads.NewProgress(),
	}
	f.handler = uploads.NewHandler(f.store, f.queue, f.progress, nil)
	f.router = gin.New()
	f.router.POST("/recorder", f.handler.Recorder)
	f.router.GET("/stat", f.handler.Status)
	f.router.GET("/history", f.handler.History)
	f.router.POST("/retry/:event_id", f.handler.Retry)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w
}

func eventJSON(t *testing.T, e *models.RecordingEvent) string {
	t.Helper()
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	return string(raw)
}

func TestRecorderAcceptsFileClosed(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	ev := testsupport.Event("ev-1", 3, openTime, "3-streamer/a.flv")

	w := f.do(t, http.MethodPost, "/recorder", eventJSON(t, ev))
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, 1, f.queue.Len())

	job, ok := f.store.Job("ev-1")
	require.True(t, ok)
	assert.False(t, job.Uploaded)

	queued, err := f.queue.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ev-1", queued.EventID)
}

func TestRecorderIgnoresNonUploadableEvents(t *testing.T) {
	short := testsupport.Event("short", 3, openTime, "a.flv")
	short.EventData.Duration = 9.99
	opened := testsupport.Event("opened", 3, openTime, "a.flv")
	opened.EventType = "FileOpening"
	badTime := testsupport.Event("bad-time", 3, "yesterday", "a.flv")

	cases := map[string]string{
		"malformed json":  `{"EventId":`,
		"short recording": eventJSON(t, short),
		"other type":      eventJSON(t, opened),
		"bad open time":   eventJSON(t, badTime),
		"empty object":    `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, queue.PolicyBlock, 4)
			w := f.do(t, http.MethodPost, "/recorder", body)
			assert.Equal(t, "OK", w.Body.String())
			assert.Zero(t, f.store.Writes())
			assert.Zero(t, f.queue.Len())
		})
	}
}

func TestRecorderDuplicateFails(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	body := eventJSON(t, testsupport.Event("dup", 3, openTime, "a.flv"))

	assert.Equal(t, "OK", f.do(t, http.MethodPost, "/recorder", body).Body.String())
	writes := f.store.Writes()

	assert.Equal(t, "Failed", f.do(t, http.MethodPost, "/recorder", body).Body.String())
	assert.Equal(t, writes, f.store.Writes())
	assert.Equal(t, 1, f.queue.Len())
}

func TestRecorderStoreFailure(t *testing.T) {
	for _, op := range []string{"AddEvent", "AddUpload"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t, queue.PolicyBlock, 4)
			body := eventJSON(t, testsupport.Event("ev", 3, openTime, "a.flv"))

			f.store.Fail(op, errors.New("connection refused"))
			assert.Equal(t, "Failed", f.do(t, http.MethodPost, "/recorder", body).Body.String())
			assert.Zero(t, f.queue.Len())
			assert.False(t, f.store.HasEvent("ev"), "event written without its job")
			assert.Zero(t, f.store.Writes())

			// The recorder redelivers once the store is back.
			f.store.Fail(op, nil)
			assert.Equal(t, "OK", f.do(t, http.MethodPost, "/recorder", body).Body.String())
			assert.Equal(t, 1, f.queue.Len())
			job, ok := f.store.Job("ev")
			require.True(t, ok)
			assert.False(t, job.Uploaded)

			w := f.do(t, http.MethodGet, "/stat", "")
			var status models.UploadStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
			require.Len(t, status.Uploads, 1)
			assert.Equal(t, "ev", status.Uploads[0].EventID)
		})
	}
}

func TestRecorderRejectPolicyLeavesJobPending(t *testing.T) {
	f := newFixture(t, queue.PolicyReject, 1)

	assert.Equal(t, "OK", f.do(t, http.MethodPost, "/recorder", eventJSON(t, testsupport.Event("a", 3, openTime, "a.flv"))).Body.String())
	assert.Equal(t, "Failed", f.do(t, http.MethodPost, "/recorder", eventJSON(t, testsupport.Event("b", 3, openTime, "b.flv"))).Body.String())

	job, ok := f.store.Job("b")
	require.True(t, ok)
	assert.False(t, job.Uploaded)
	assert.Equal(t, 1, f.queue.Len())
}

func TestRecorderPayloadTooLarge(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	f.handler.SetMaxBodyBytes(8)
	w := f.do(t, http.MethodPost, "/recorder", eventJSON(t, testsupport.Event("ev", 3, openTime, "a.flv")))
	assert.Equal(t, "Failed to read payload", w.Body.String())
	assert.Zero(t, f.store.Writes())
}

func TestStatus(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	created := time.Unix(1709644200, 0)
	f.store.Now = func() time.Time { return created }
	f.do(t, http.MethodPost, "/recorder", eventJSON(t, testsupport.Event("ev-1", 3, openTime, "3-streamer/a.flv")))

	w := f.do(t, http.MethodGet, "/stat", "")
	assert.JSONEq(t, `{"current":null,"uploaded":0,"uploads":[
		{"event_id":"ev-1","created_at":1709644200,"relative_path":"3-streamer/a.flv","file_size":2048}]}`, w.Body.String())

	f.progress.Start("ev-1")
	f.progress.Add(512)
	w = f.do(t, http.MethodGet, "/stat", "")
	var got struct {
		Current  *string `json:"current"`
		Uploaded int64   `json:"uploaded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Current)
	assert.Equal(t, "ev-1", *got.Current)
	assert.Equal(t, int64(512), got.Uploaded)
}

func TestStatusEmptyListIsArray(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	w := f.do(t, http.MethodGet, "/stat", "")
	assert.JSONEq(t, `{"current":null,"uploaded":0,"uploads":[]}`, w.Body.String())
}

func TestStatusStoreFailureIsNull(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	f.store.Fail("GetUnfinishedUploads", errors.New("db down"))
	w := f.do(t, http.MethodGet, "/stat", "")
	assert.Equal(t, "null", w.Body.String())
}

func TestHistory(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	ctx := context.Background()
	finished := time.Unix(1709650000, 0)
	f.store.Now = func() time.Time { return finished }

	ev := testsupport.Event("ev-1", 3, openTime, "3-streamer/a.flv")
	require.NoError(t, f.store.AddEvent(ctx, ev))
	_, err := f.store.AddUpload(ctx, ev)
	require.NoError(t, err)
	require.NoError(t, f.store.FinishUpload(ctx, "ev-1", 77, "archive"))

	w := f.do(t, http.MethodGet, "/history", "")
	assert.JSONEq(t, `[{"finished_at":1709650000,"relative_path":"3-streamer/a.flv","file_size":2048,"avid":77}]`, w.Body.String())

	f.store.Fail("GetFinishedUploads", errors.New("db down"))
	assert.Equal(t, "null", f.do(t, http.MethodGet, "/history", "").Body.String())
}

func TestRetry(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	ctx := context.Background()
	ev := testsupport.Event("ev-1", 3, openTime, "a.flv")
	ev.EventData.Duration = 1 // retries skip validation
	require.NoError(t, f.store.AddEvent(ctx, ev))

	assert.Equal(t, "OK", f.do(t, http.MethodPost, "/retry/ev-1", "").Body.String())
	assert.Equal(t, 1, f.queue.Len())
	queued, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", queued.EventID)

	assert.Equal(t, "No such event", f.do(t, http.MethodPost, "/retry/missing", "").Body.String())

	f.store.Fail("GetEvent", errors.New("db down"))
	assert.Equal(t, "Failed", f.do(t, http.MethodPost, "/retry/ev-1", "").Body.String())
	assert.Zero(t, f.queue.Len())
}

func TestRetryWhileBusy(t *testing.T) {
	f := newFixture(t, queue.PolicyBlock, 4)
	ctx := context.Background()
	require.NoError(t, f.store.AddEvent(ctx, testsupport.Event("ev-1", 3, openTime, "a.flv")))
	require.NoError(t, f.queue.Push(ctx, testsupport.Event("other", 3, openTime, "b.flv")))

	f.progress.Start("other")
	before := f.queue.Len()
	assert.Equal(t, "Busy", f.do(t, http.MethodPost, "/retry/ev-1", "").Body.String())
	assert.Equal(t, before, f.queue.Len())
}
