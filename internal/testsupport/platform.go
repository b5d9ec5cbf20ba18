package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aura-webinar/uploadmgr/internal/platform"
)

// FakeClient hands out a shared FakeSession and records login credentials.
type FakeClient struct {
	Session  *FakeSession
	LoginErr error

	mu          sync.Mutex
	credentials []string
}

var _ platform.Client = (*FakeClient)(nil)

// NewFakeClient returns a client whose session accepts everything.
func NewFakeClient() *FakeClient {
	return &FakeClient{Session: NewFakeSession()}
}

func (c *FakeClient) Login(_ context.Context, credentials string) (platform.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = append(c.credentials, credentials)
	if c.LoginErr != nil {
		return nil, c.LoginErr
	}
	return c.Session, nil
}

// Logins returns the credentials passed to Login so far.
func (c *FakeClient) Logins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.credentials...)
}

// FakeSession keeps archives in memory. Uploads report the file size in two chunks.
type FakeSession struct {
	UploadErr error
	SubmitErr error
	// OnUpload runs before an upload returns, with the file path.
	OnUpload func(path string)

	mu        sync.Mutex
	nextAID   int64
	archives  map[int64]*platform.Archive
	submitted []platform.Archive
	edited    []platform.Archive
	covers    [][]byte
	uploaded  []string
	probed    int
}

var _ platform.Session = (*FakeSession)(nil)

// NewFakeSession returns an empty session.
func NewFakeSession() *FakeSession {
	return &FakeSession{nextAID: 1000, archives: make(map[int64]*platform.Archive)}
}

func (s *FakeSession) Probe(context.Context) (platform.Endpoint, error) {
	s.mu.Lock()
	s.probed++
	s.mu.Unlock()
	return platform.Endpoint{Line: platform.LineKodo, URL: "https://probe.example"}, nil
}

func (s *FakeSession) Endpoint(line platform.Line) (platform.Endpoint, error) {
	return platform.Endpoint{Line: line}, nil
}

func (s *FakeSession) Upload(ctx context.Context, path string, _ platform.Endpoint, _ int, progress platform.ProgressFunc) (*platform.Video, error) {
	if s.OnUpload != nil {
		s.OnUpload(path)
	}
	if s.UploadErr != nil {
		return nil, s.UploadErr
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	half := info.Size() / 2
	if progress != nil {
		progress(half)
		progress(info.Size() - half)
	}
	s.mu.Lock()
	s.uploaded = append(s.uploaded, path)
	s.mu.Unlock()
	return &platform.Video{Filename: "videos/" + filepath.Base(path)}, nil
}

func (s *FakeSession) FetchArchive(_ context.Context, aid int64) (*platform.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archives[aid]
	if !ok {
		return nil, errors.New("archive not found")
	}
	out := *a
	out.Videos = append([]platform.Video(nil), a.Videos...)
	return &out, nil
}

func (s *FakeSession) SubmitArchive(_ context.Context, a *platform.Archive) (int64, error) {
	if s.SubmitErr != nil {
		return 0, s.SubmitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAID++
	stored := *a
	stored.AID = s.nextAID
	s.archives[stored.AID] = &stored
	s.submitted = append(s.submitted, stored)
	return stored.AID, nil
}

func (s *FakeSession) EditArchive(_ context.Context, a *platform.Archive) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[a.AID]; !ok {
		return 0, errors.New("archive not found")
	}
	stored := *a
	s.archives[a.AID] = &stored
	s.edited = append(s.edited, stored)
	return a.AID, nil
}

func (s *FakeSession) UploadCover(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.covers = append(s.covers, data)
	return fmt.Sprintf("https://covers.example/%d.jpg", len(s.covers)), nil
}

// Submitted returns the archives created so far.
func (s *FakeSession) Submitted() []platform.Archive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.Archive(nil), s.submitted...)
}

// Edited returns the archive edits so far.
func (s *FakeSession) Edited() []platform.Archive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.Archive(nil), s.edited...)
}

// Covers returns the cover images uploaded so far.
func (s *FakeSession) Covers() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.covers...)
}

// Probes counts calls to Probe.
func (s *FakeSession) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probed
}

// Uploaded returns the file paths uploaded so far.
func (s *FakeSession) Uploaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploaded...)
}
