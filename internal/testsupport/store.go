package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aura-webinar/uploadmgr/internal/models"
	"github.com/aura-webinar/uploadmgr/internal/uploads"
)

// MemoryStore is an in-memory uploads.Store. Fail injects an error for a
// named operation ("AddEvent", "GetUnfinishedUploads", ...).
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*models.RecordingEvent
	jobs   map[string]*models.UploadJob
	order  []string
	nextID int64
	writes int
	fail   map[string]error
	Now    func() time.Time
}

var _ uploads.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*models.RecordingEvent),
		jobs:   make(map[string]*models.UploadJob),
		fail:   make(map[string]error),
		Now:    time.Now,
	}
}

// Fail makes every later call to op return err. A nil err clears it.
func (s *MemoryStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Writes counts successful inserts and updates.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Job returns a copy of the job row for eventID.
func (s *MemoryStore) Job(eventID string) (models.UploadJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[eventID]
	if !ok {
		return models.UploadJob{}, false
	}
	return *j, true
}

func (s *MemoryStore) AddEvent(_ context.Context, event *models.RecordingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["AddEvent"]; err != nil {
		return err
	}
	if err := s.checkEvent(event); err != nil {
		return err
	}
	s.putEvent(event)
	return nil
}

// AddEventWithUpload writes both rows or neither. Failures injected for
// "AddEvent" or "AddUpload" abort the whole write.
func (s *MemoryStore) AddEventWithUpload(_ context.Context, event *models.RecordingEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range []string{"AddEventWithUpload", "AddEvent", "AddUpload"} {
		if err := s.fail[op]; err != nil {
			return 0, err
		}
	}
	if err := s.checkEvent(event); err != nil {
		return 0, err
	}
	if _, ok := s.jobs[event.EventID]; ok {
		return 0, fmt.Errorf("insert upload: %w", uploads.ErrDuplicateKey)
	}
	s.putEvent(event)
	return s.putJob(event.EventID), nil
}

// HasEvent reports whether an event row exists for eventID.
func (s *MemoryStore) HasEvent(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok
}

func (s *MemoryStore) checkEvent(event *models.RecordingEvent) error {
	if _, err := event.EventData.OpenTime(); err != nil {
		return fmt.Errorf("parse file open time: %w", err)
	}
	if _, ok := s.events[event.EventID]; ok {
		return fmt.Errorf("insert event: %w", uploads.ErrDuplicateKey)
	}
	return nil
}

func (s *MemoryStore) putEvent(event *models.RecordingEvent) {
	e := *event
	s.events[event.EventID] = &e
	s.writes++
}

func (s *MemoryStore) putJob(eventID string) int64 {
	s.nextID++
	s.jobs[eventID] = &models.UploadJob{ID: s.nextID, EventID: eventID, CreatedAt: s.Now()}
	s.order = append(s.order, eventID)
	s.writes++
	return s.nextID
}

func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (*models.RecordingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["GetEvent"]; err != nil {
		return nil, err
	}
	e, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (s *MemoryStore) AddUpload(_ context.Context, event *models.RecordingEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["AddUpload"]; err != nil {
		return 0, err
	}
	if _, ok := s.events[event.EventID]; !ok {
		return 0, fmt.Errorf("insert upload: event %s missing", event.EventID)
	}
	if _, ok := s.jobs[event.EventID]; ok {
		return 0, fmt.Errorf("insert upload: %w", uploads.ErrDuplicateKey)
	}
	return s.putJob(event.EventID), nil
}

func (s *MemoryStore) GetUpload(_ context.Context, eventID string) (*models.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["GetUpload"]; err != nil {
		return nil, err
	}
	j, ok := s.jobs[eventID]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}

func (s *MemoryStore) FinishUpload(_ context.Context, eventID string, avid int64, archive string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["FinishUpload"]; err != nil {
		return err
	}
	j, ok := s.jobs[eventID]
	if !ok {
		return uploads.ErrNotFound
	}
	if j.Uploaded {
		return uploads.ErrAlreadyFinished
	}
	now := s.Now()
	j.Uploaded = true
	j.FinishedAt = &now
	j.AVID = &avid
	j.Archive = &archive
	s.writes++
	return nil
}

func (s *MemoryStore) FindExistingUpload(_ context.Context, roomID uint64, fileOpenTime string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["FindExistingUpload"]; err != nil {
		return nil, err
	}
	want, err := time.Parse(time.RFC3339, fileOpenTime)
	if err != nil {
		return nil, err
	}
	var (
		found  *int64
		latest time.Time
	)
	for id, j := range s.jobs {
		e := s.events[id]
		if !j.Uploaded || j.AVID == nil || e.EventData.RoomID != roomID {
			continue
		}
		opened, err := e.EventData.OpenTime()
		if err != nil || !opened.Equal(want) {
			continue
		}
		if found == nil || j.FinishedAt.After(latest) {
			avid := *j.AVID
			found, latest = &avid, *j.FinishedAt
		}
	}
	return found, nil
}

func (s *MemoryStore) GetUnfinishedUploads(context.Context) ([]models.UploadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["GetUnfinishedUploads"]; err != nil {
		return nil, err
	}
	list := []models.UploadState{}
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Uploaded {
			continue
		}
		e := s.events[id]
		list = append(list, models.UploadState{
			EventID:      id,
			CreatedAt:    models.UnixTime{Time: j.CreatedAt},
			RelativePath: e.EventData.RelativePath,
			FileSize:     int64(e.EventData.FileSize),
		})
	}
	return list, nil
}

func (s *MemoryStore) GetFinishedUploads(_ context.Context, since time.Time) ([]models.UploadHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["GetFinishedUploads"]; err != nil {
		return nil, err
	}
	list := []models.UploadHistory{}
	for _, id := range s.order {
		j := s.jobs[id]
		if !j.Uploaded || j.FinishedAt.Before(since) {
			continue
		}
		e := s.events[id]
		avid := *j.AVID
		list = append(list, models.UploadHistory{
			FinishedAt:   models.UnixTime{Time: *j.FinishedAt},
			RelativePath: e.EventData.RelativePath,
			FileSize:     int64(e.EventData.FileSize),
			AVID:         &avid,
		})
	}
	return list, nil
}
