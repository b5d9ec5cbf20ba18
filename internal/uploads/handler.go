package uploads

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/uploadmgr/internal/metrics"
	"github.com/aura-webinar/uploadmgr/internal/models"
	"github.com/aura-webinar/uploadmgr/pkg/queue"
	"github.com/aura-webinar/uploadmgr/pkg/response"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	defaultMaxBodyBytes  = 256 << 10
)

// Handler serves the recorder webhook and the status, history and retry endpoints.
type Handler struct {
	store         Store
	queue         *queue.Queue[*models.RecordingEvent]
	progress      *Progress
	metrics       *metrics.Metrics
	historyWindow time.Duration
	maxBodyBytes  int64
	now           func() time.Time
	logger        *zap.Logger
}

// NewHandler creates an uploads handler.
func NewHandler(store Store, q *queue.Queue[*models.RecordingEvent], progress *Progress, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:         store,
		queue:         q,
		progress:      progress,
		historyWindow: defaultHistoryWindow,
		maxBodyBytes:  defaultMaxBodyBytes,
		now:           time.Now,
		logger:        logger,
	}
}

// SetMetrics sets the optional metrics recorder.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SetHistoryWindow sets how far back GET /history looks.
func (h *Handler) SetHistoryWindow(d time.Duration) {
	if d > 0 {
		h.historyWindow = d
	}
}

// SetMaxBodyBytes caps the recorder payload size.
func (h *Handler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBodyBytes = n
	}
}

// Recorder handles POST /recorder. Events that cannot be uploaded are
// acknowledged with OK and dropped; storage problems answer Failed.
func (h *Handler) Recorder(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		h.logger.Warn("read recorder payload failed", zap.Error(err))
		h.metrics.IncIngest(metrics.IngestFailed)
		response.Text(c, response.TextBadPayload)
		return
	}

	var event models.RecordingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Debug("malformed recorder payload ignored", zap.Error(err))
		h.metrics.IncIngest(metrics.IngestIgnored)
		response.Text(c, response.TextOK)
		return
	}
	if !event.Uploadable() {
		h.logger.Debug("recorder event ignored",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Float64("duration", event.EventData.Duration),
		)
		h.metrics.IncIngest(metrics.IngestIgnored)
		response.Text(c, response.TextOK)
		return
	}

	ctx := c.Request.Context()
	jobID, err := h.store.AddEventWithUpload(ctx, &event)
	if err != nil {
		h.storeFailed("add event", &event, err)
		response.Text(c, response.TextFailed)
		return
	}

	if err := h.queue.Push(ctx, &event); err != nil {
		h.logger.Error("enqueue upload failed, job left pending",
			zap.Error(err), zap.String("event_id", event.EventID), zap.Int64("job_id", jobID))
		h.metrics.IncIngest(metrics.IngestFailed)
		response.Text(c, response.TextFailed)
		return
	}

	h.logger.Info("recording queued",
		zap.String("event_id", event.EventID),
		zap.Int64("job_id", jobID),
		zap.Uint64("room_id", event.EventData.RoomID),
		zap.String("relative_path", event.EventData.RelativePath),
	)
	h.metrics.IncIngest(metrics.IngestAccepted)
	response.Text(c, response.TextOK)
}

func (h *Handler) storeFailed(op string, event *models.RecordingEvent, err error) {
	if errors.Is(err, ErrDuplicateKey) {
		h.logger.Warn("duplicate recorder event", zap.String("op", op), zap.String("event_id", event.EventID))
	} else {
		h.logger.Error("store write failed", zap.String("op", op), zap.Error(err), zap.String("event_id", event.EventID))
	}
	h.metrics.IncIngest(metrics.IngestFailed)
}

// Status handles GET /stat. Answers null when the store cannot be read.
func (h *Handler) Status(c *gin.Context) {
	list, err := h.store.GetUnfinishedUploads(c.Request.Context())
	if err != nil {
		h.logger.Error("list unfinished uploads failed", zap.Error(err))
		response.Raw(c, nil)
		return
	}
	current, uploaded := h.progress.Snapshot()
	response.Raw(c, models.UploadStatus{Current: current, Uploaded: uploaded, Uploads: list})
}

// History handles GET /history. Answers null when the store cannot be read.
func (h *Handler) History(c *gin.Context) {
	since := h.now().Add(-h.historyWindow)
	list, err := h.store.GetFinishedUploads(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("list finished uploads failed", zap.Error(err))
		response.Raw(c, nil)
		return
	}
	response.Raw(c, list)
}

// Retry handles POST /retry/:event_id. The stored event is queued again
// without validation. Busy covers the whole of an upload; a retry that lands
// between the worker popping an event and starting it is queued behind it,
// and the worker skips jobs that are already finished.
func (h *Handler) Retry(c *gin.Context) {
	if h.progress.Busy() {
		response.Text(c, response.TextBusy)
		return
	}
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	event, err := h.store.GetEvent(ctx, eventID)
	if err != nil {
		h.logger.Error("get event for retry failed", zap.Error(err), zap.String("event_id", eventID))
		response.Text(c, response.TextFailed)
		return
	}
	if event == nil {
		response.Text(c, response.TextNoSuchEvent)
		return
	}
	if err := h.queue.Push(ctx, event); err != nil {
		h.logger.Error("enqueue retry failed", zap.Error(err), zap.String("event_id", eventID))
		response.Text(c, response.TextFailed)
		return
	}

	h.logger.Info("retry queued", zap.String("event_id", eventID))
	h.metrics.IncIngest(metrics.IngestRetried)
	response.Text(c, response.TextOK)
}
