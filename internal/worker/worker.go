package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/uploadmgr/config"
	"github.com/aura-webinar/uploadmgr/internal/metrics"
	"github.com/aura-webinar/uploadmgr/internal/models"
	"github.com/aura-webinar/uploadmgr/internal/notify"
	"github.com/aura-webinar/uploadmgr/internal/platform"
	"github.com/aura-webinar/uploadmgr/internal/uploads"
	"github.com/aura-webinar/uploadmgr/pkg/queue"
)

// ErrRoomNotConfigured is returned for events from a room missing in the uploader config.
var ErrRoomNotConfigured = errors.New("room not configured")

// copyrightReprint marks archives as re-uploads of a live stream.
const copyrightReprint = 2

// Result describes a processed job.
type Result struct {
	AVID     int64
	Title    string
	Appended bool
	Skipped  bool
}

// UploadProcessor is the single upload worker: it drains the queue one event at a time.
type UploadProcessor struct {
	store    uploads.Store
	queue    *queue.Queue[*models.RecordingEvent]
	progress *uploads.Progress
	client   platform.Client
	cfg      *config.UploaderConfig
	notifier notify.Publisher
	metrics  *metrics.Metrics
	readFile func(string) ([]byte, error)
	logger   *zap.Logger
}

// NewUploadProcessor creates the upload worker.
func NewUploadProcessor(store uploads.Store, q *queue.Queue[*models.RecordingEvent], progress *uploads.Progress,
	client platform.Client, cfg *config.UploaderConfig, logger *zap.Logger) *UploadProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadProcessor{
		store:    store,
		queue:    q,
		progress: progress,
		client:   client,
		cfg:      cfg,
		notifier: notify.Nop{},
		readFile: os.ReadFile,
		logger:   logger,
	}
}

// SetNotifier sets the lifecycle publisher. nil disables notifications.
func (p *UploadProcessor) SetNotifier(n notify.Publisher) {
	if n == nil {
		n = notify.Nop{}
	}
	p.notifier = n
}

// SetMetrics sets the optional metrics recorder.
func (p *UploadProcessor) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Run pops events until ctx is done. A failed job is logged and left pending;
// nothing is retried automatically.
func (p *UploadProcessor) Run(ctx context.Context) {
	p.logger.Info("upload worker started")
	for {
		event, err := p.queue.Pop(ctx)
		if err != nil {
			p.logger.Info("upload worker stopping")
			return
		}
		p.Handle(ctx, event)
	}
}

// Handle runs one job with progress tracking and notifications. The progress
// slot is always cleared on return.
func (p *UploadProcessor) Handle(ctx context.Context, event *models.RecordingEvent) {
	p.progress.Start(event.EventID)
	defer p.progress.Reset()

	start := time.Now()
	log := p.logger.With(zap.String("event_id", event.EventID), zap.Uint64("room_id", event.EventData.RoomID))
	p.publish(ctx, notify.Notification{Event: notify.EventUploadStarted, EventID: event.EventID, RoomID: event.EventData.RoomID})

	res, err := p.Process(ctx, event)
	if err != nil {
		log.Error("upload failed, job left pending", zap.Error(err))
		p.metrics.UploadFailed()
		p.publish(ctx, notify.Notification{
			Event:   notify.EventUploadFailed,
			EventID: event.EventID,
			RoomID:  event.EventData.RoomID,
			Error:   err.Error(),
		})
		return
	}
	if res.Skipped {
		log.Info("upload already finished, skipping")
		return
	}

	log.Info("upload finished",
		zap.Int64("avid", res.AVID),
		zap.String("archive", res.Title),
		zap.Bool("appended", res.Appended),
		zap.Duration("took", time.Since(start)),
	)
	p.metrics.UploadSucceeded(time.Since(start))
	avid := res.AVID
	p.publish(ctx, notify.Notification{
		Event:   notify.EventUploadFinished,
		EventID: event.EventID,
		RoomID:  event.EventData.RoomID,
		AVID:    &avid,
	})
}

// Process uploads the recording of event and files it into an archive: an
// existing one from the same room and session, or a new one.
func (p *UploadProcessor) Process(ctx context.Context, event *models.RecordingEvent) (*Result, error) {
	data := &event.EventData

	job, err := p.store.GetUpload(ctx, event.EventID)
	if err != nil {
		return nil, err
	}
	if job != nil && job.Uploaded {
		return &Result{Skipped: true}, nil
	}
	if job == nil {
		if _, err := p.store.AddUpload(ctx, event); err != nil {
			return nil, fmt.Errorf("recreate upload job: %w", err)
		}
	}

	room, ok := p.cfg.Room(data.RoomID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoomNotConfigured, data.RoomID)
	}

	session, err := p.client.Login(ctx, room.Credentials)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	ep, err := platform.SelectLine(ctx, session, p.cfg.Line)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(p.cfg.RecDir, data.RelativePath)
	p.logger.Info("uploading recording", zap.String("path", path), zap.String("line", string(ep.Line)))
	video, err := session.Upload(ctx, path, ep, p.cfg.Limit, func(n int64) {
		p.progress.Add(n)
		p.metrics.AddUploadedBytes(n)
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", data.RelativePath, err)
	}
	video.Title = data.Format(room.PartTitle)

	res := &Result{}
	existing, err := p.store.FindExistingUpload(ctx, data.RoomID, data.FileOpenTime)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		archive, err := session.FetchArchive(ctx, *existing)
		if err != nil {
			return nil, fmt.Errorf("fetch archive %d: %w", *existing, err)
		}
		archive.Videos = append(archive.Videos, *video)
		if res.AVID, err = session.EditArchive(ctx, archive); err != nil {
			return nil, fmt.Errorf("edit archive %d: %w", *existing, err)
		}
		res.Title = archive.Title
		res.Appended = true
	} else {
		archive, err := p.newArchive(ctx, session, room, data)
		if err != nil {
			return nil, err
		}
		archive.Videos = []platform.Video{*video}
		if res.AVID, err = session.SubmitArchive(ctx, archive); err != nil {
			return nil, fmt.Errorf("submit archive: %w", err)
		}
		res.Title = archive.Title
	}

	if err := p.store.FinishUpload(ctx, event.EventID, res.AVID, res.Title); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *UploadProcessor) newArchive(ctx context.Context, session platform.Session, room *config.RoomConfig, data *models.EventData) (*platform.Archive, error) {
	archive := &platform.Archive{
		Copyright: copyrightReprint,
		Source:    p.cfg.SourceBase + strconv.FormatUint(data.RoomID, 10),
		TID:       room.TID,
		Cover:     room.Cover,
		Title:     data.Format(room.StudioTitle),
		Desc:      room.Description,
		Tag:       room.Tags,
	}
	if archive.Cover != "" && !strings.HasPrefix(archive.Cover, "http") {
		raw, err := p.readFile(archive.Cover)
		if err != nil {
			return nil, fmt.Errorf("read cover: %w", err)
		}
		if archive.Cover, err = session.UploadCover(ctx, raw); err != nil {
			return nil, fmt.Errorf("upload cover: %w", err)
		}
	}
	return archive, nil
}

func (p *UploadProcessor) publish(ctx context.Context, n notify.Notification) {
	if err := p.notifier.Publish(ctx, n); err != nil {
		p.logger.Warn("publish notification failed", zap.String("event", n.Event), zap.Error(err))
	}
}
