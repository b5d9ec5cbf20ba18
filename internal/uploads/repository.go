package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/uploadmgr/internal/models"
)

var (
	// ErrDuplicateKey is returned when an event id is stored twice.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned when the referenced job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyFinished is returned when finishing a job that is already history.
	ErrAlreadyFinished = errors.New("upload already finished")
)

// Store is the durable record of events and upload jobs.
type Store interface {
	AddEvent(ctx context.Context, event *models.RecordingEvent) error
	AddEventWithUpload(ctx context.Context, event *models.RecordingEvent) (int64, error)
	GetEvent(ctx context.Context, eventID string) (*models.RecordingEvent, error)
	AddUpload(ctx context.Context, event *models.RecordingEvent) (int64, error)
	GetUpload(ctx context.Context, eventID string) (*models.UploadJob, error)
	FinishUpload(ctx context.Context, eventID string, avid int64, archive string) error
	FindExistingUpload(ctx context.Context, roomID uint64, fileOpenTime string) (*int64, error)
	GetUnfinishedUploads(ctx context.Context) ([]models.UploadState, error)
	GetFinishedUploads(ctx context.Context, since time.Time) ([]models.UploadHistory, error)
}

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates an uploads repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AddEvent inserts a recording event. A repeated event id yields ErrDuplicateKey.
func (r *Repository) AddEvent(ctx context.Context, event *models.RecordingEvent) error {
	return insertEvent(ctx, r.pool, event)
}

// AddEventWithUpload stores event and its pending job in one transaction, so
// an event never exists without its job. Returns the job id.
func (r *Repository) AddEventWithUpload(ctx context.Context, event *models.RecordingEvent) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		var err error
		id, err = insertUpload(ctx, tx, event)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func insertEvent(ctx context.Context, db dbtx, event *models.RecordingEvent) error {
	openedAt, err := event.EventData.OpenTime()
	if err != nil {
		return fmt.Errorf("parse file open time: %w", err)
	}
	d := event.EventData
	const q = `INSERT INTO events (event_id, event_type, room_id, name, title, relative_path, file_size, duration, file_open_time, file_opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = db.Exec(ctx, q, event.EventID, event.EventType, int64(d.RoomID), d.Name, d.Title,
		d.RelativePath, int64(d.FileSize), d.Duration, d.FileOpenTime, openedAt)
	if err != nil {
		return mapError("insert event", err)
	}
	return nil
}

// GetEvent rebuilds an event by id. Returns nil, nil when it does not exist.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*models.RecordingEvent, error) {
	const q = `SELECT event_id, event_type, room_id, name, title, relative_path, file_open_time, file_size, duration
		FROM events WHERE event_id = $1`
	var (
		e        models.RecordingEvent
		roomID   int64
		fileSize int64
	)
	err := r.pool.QueryRow(ctx, q, eventID).Scan(&e.EventID, &e.EventType, &roomID, &e.EventData.Name,
		&e.EventData.Title, &e.EventData.RelativePath, &e.EventData.FileOpenTime, &fileSize, &e.EventData.Duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	e.EventData.RoomID = uint64(roomID)
	e.EventData.FileSize = uint64(fileSize)
	return &e, nil
}

// AddUpload inserts a pending job for event and returns its id.
func (r *Repository) AddUpload(ctx context.Context, event *models.RecordingEvent) (int64, error) {
	return insertUpload(ctx, r.pool, event)
}

func insertUpload(ctx context.Context, db dbtx, event *models.RecordingEvent) (int64, error) {
	const q = `INSERT INTO uploads (event_id, created_at) VALUES ($1, NOW()) RETURNING id`
	var id int64
	if err := db.QueryRow(ctx, q, event.EventID).Scan(&id); err != nil {
		return 0, mapError("insert upload", err)
	}
	return id, nil
}

// GetUpload returns the job for eventID, or nil, nil when there is none.
func (r *Repository) GetUpload(ctx context.Context, eventID string) (*models.UploadJob, error) {
	const q = `SELECT id, event_id, uploaded, created_at, finished_at, avid, archive FROM uploads WHERE event_id = $1`
	var j models.UploadJob
	err := r.pool.QueryRow(ctx, q, eventID).Scan(&j.ID, &j.EventID, &j.Uploaded, &j.CreatedAt, &j.FinishedAt, &j.AVID, &j.Archive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return &j, nil
}

// FinishUpload marks a pending job as uploaded to archive avid.
func (r *Repository) FinishUpload(ctx context.Context, eventID string, avid int64, archive string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `UPDATE uploads SET uploaded = TRUE, finished_at = NOW(), avid = $1, archive = $2
			WHERE event_id = $3 AND uploaded = FALSE`
		tag, err := tx.Exec(ctx, q, avid, archive, eventID)
		if err != nil {
			return fmt.Errorf("finish upload: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM uploads WHERE event_id = $1)`, eventID).Scan(&exists); err != nil {
			return fmt.Errorf("finish upload: %w", err)
		}
		if exists {
			return ErrAlreadyFinished
		}
		return ErrNotFound
	})
}

// FindExistingUpload returns the archive id of a finished upload from the same
// room and recording session, or nil when there is none.
func (r *Repository) FindExistingUpload(ctx context.Context, roomID uint64, fileOpenTime string) (*int64, error) {
	openedAt, err := time.Parse(time.RFC3339, fileOpenTime)
	if err != nil {
		return nil, fmt.Errorf("parse file open time: %w", err)
	}
	const q = `SELECT uploads.avid FROM uploads
		JOIN events ON events.event_id = uploads.event_id
		WHERE events.room_id = $1 AND events.file_opened_at = $2 AND uploads.uploaded AND uploads.avid IS NOT NULL
		ORDER BY uploads.finished_at DESC LIMIT 1`
	var avid int64
	if err := r.pool.QueryRow(ctx, q, int64(roomID), openedAt).Scan(&avid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find existing upload: %w", err)
	}
	return &avid, nil
}

// GetUnfinishedUploads lists pending jobs, oldest first.
func (r *Repository) GetUnfinishedUploads(ctx context.Context) ([]models.UploadState, error) {
	const q = `SELECT uploads.event_id, uploads.created_at, events.relative_path, events.file_size
		FROM uploads JOIN events ON events.event_id = uploads.event_id
		WHERE NOT uploads.uploaded ORDER BY uploads.created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list unfinished uploads: %w", err)
	}
	defer rows.Close()
	list := []models.UploadState{}
	for rows.Next() {
		var s models.UploadState
		if err := rows.Scan(&s.EventID, &s.CreatedAt.Time, &s.RelativePath, &s.FileSize); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// GetFinishedUploads lists jobs finished at or after since, oldest first.
func (r *Repository) GetFinishedUploads(ctx context.Context, since time.Time) ([]models.UploadHistory, error) {
	const q = `SELECT uploads.finished_at, events.relative_path, events.file_size, uploads.avid
		FROM uploads JOIN events ON events.event_id = uploads.event_id
		WHERE uploads.uploaded AND uploads.finished_at >= $1 ORDER BY uploads.finished_at`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("list finished uploads: %w", err)
	}
	defer rows.Close()
	list := []models.UploadHistory{}
	for rows.Next() {
		var h models.UploadHistory
		if err := rows.Scan(&h.FinishedAt.Time, &h.RelativePath, &h.FileSize, &h.AVID); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}
