package s3archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/uploadmgr/internal/platform"
	"github.com/aura-webinar/uploadmgr/pkg/storage"
)

type memStore struct {
	endpoint string
	delay    time.Duration
	headErr  error

	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	public       map[string]bool
	concurrency  int
}

func newMemStore(endpoint string) *memStore {
	return &memStore{
		endpoint:     endpoint,
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
		public:       make(map[string]bool),
	}
}

func (m *memStore) HeadBucket(ctx context.Context) error {
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.headErr
}

func (m *memStore) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64, concurrency int, publicRead bool) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = raw
	m.contentTypes[key] = contentType
	m.public[key] = publicRead
	m.concurrency = concurrency
	return m.PublicObjectURL(key), nil
}

func (m *memStore) PutJSON(_ context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = raw
	return nil
}

func (m *memStore) GetJSON(_ context.Context, key string, v interface{}) error {
	m.mu.Lock()
	raw, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("get %s: %w", key, storage.ErrObjectNotFound)
	}
	return json.Unmarshal(raw, v)
}

func (m *memStore) PublicObjectURL(key string) string {
	return "https://public.example/" + key
}

type harness struct {
	client *Client
	stores map[string]*memStore
}

func newHarness(t *testing.T, endpoints map[platform.Line]string) *harness {
	t.Helper()
	c, err := NewClient(Config{Region: "us-east-1", Bucket: "archives", Endpoints: endpoints, NodeID: 7}, nil)
	require.NoError(t, err)
	h := &harness{client: c, stores: map[string]*memStore{"": newMemStore("")}}
	for _, url := range endpoints {
		h.stores[url] = newMemStore(url)
	}
	c.newStore = func(_ context.Context, _ Credentials, endpoint string) (objectStore, error) {
		st, ok := h.stores[endpoint]
		if !ok {
			return nil, fmt.Errorf("unexpected endpoint %q", endpoint)
		}
		return st, nil
	}
	return h
}

func (h *harness) login(t *testing.T) *Session {
	t.Helper()
	s, err := h.client.Login(context.Background(), "")
	require.NoError(t, err)
	return s.(*Session)
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte("access_key_id: AK\nsecret_access_key: SK\n"), 0o600))

	c, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "AK", c.AccessKeyID)
	assert.Equal(t, "SK", c.SecretAccessKey)

	c, err = LoadCredentials("")
	require.NoError(t, err)
	assert.Empty(t, c.AccessKeyID)

	require.NoError(t, os.WriteFile(path, []byte("access_key_id: AK\n"), 0o600))
	_, err = LoadCredentials(path)
	assert.Error(t, err)

	_, err = LoadCredentials(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoginCredentialsFallback(t *testing.T) {
	c, err := NewClient(Config{Bucket: "archives", Fallback: Credentials{AccessKeyID: "ENV", SecretAccessKey: "ENVSECRET"}}, nil)
	require.NoError(t, err)
	var got []Credentials
	c.newStore = func(_ context.Context, creds Credentials, endpoint string) (objectStore, error) {
		got = append(got, creds)
		return newMemStore(endpoint), nil
	}

	_, err = c.Login(context.Background(), "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte("access_key_id: ROOM\nsecret_access_key: ROOMSECRET\n"), 0o600))
	_, err = c.Login(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "ENV", got[0].AccessKeyID)
	assert.Equal(t, "ROOM", got[1].AccessKeyID)
}

func TestLoginChecksBucket(t *testing.T) {
	h := newHarness(t, nil)
	h.stores[""].headErr = errors.New("access denied")
	_, err := h.client.Login(context.Background(), "")
	assert.ErrorContains(t, err, "access denied")
}

func TestProbePicksFastestReachableLine(t *testing.T) {
	h := newHarness(t, map[platform.Line]string{
		platform.LineKodo: "https://kodo.example",
		platform.LineCOS:  "https://cos.example",
		platform.LineWS:   "https://ws.example",
	})
	h.stores["https://kodo.example"].delay = 80 * time.Millisecond
	h.stores["https://cos.example"].delay = 5 * time.Millisecond
	h.stores["https://ws.example"].headErr = errors.New("unreachable")

	ep, err := h.login(t).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, platform.LineCOS, ep.Line)
	assert.Equal(t, "https://cos.example", ep.URL)
}

func TestProbeIgnoresClientSetupTime(t *testing.T) {
	h := newHarness(t, map[platform.Line]string{
		platform.LineKodo: "https://kodo.example",
		platform.LineWS:   "https://ws.example",
	})
	s := h.login(t)
	h.stores["https://kodo.example"].delay = 20 * time.Millisecond
	h.stores["https://ws.example"].delay = time.Millisecond

	build := h.client.newStore
	h.client.newStore = func(ctx context.Context, creds Credentials, endpoint string) (objectStore, error) {
		time.Sleep(40 * time.Millisecond)
		return build(ctx, creds, endpoint)
	}

	for i := 0; i < 3; i++ {
		s.stores = map[string]objectStore{"": s.home}
		ep, err := s.Probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, platform.LineWS, ep.Line)
	}
}

func TestProbeWithoutLines(t *testing.T) {
	h := newHarness(t, nil)
	ep, err := h.login(t).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, platform.LineAuto, ep.Line)
	assert.Empty(t, ep.URL)
}

func TestProbeAllFail(t *testing.T) {
	h := newHarness(t, map[platform.Line]string{platform.LineQN: "https://qn.example"})
	h.stores["https://qn.example"].headErr = errors.New("timeout")
	_, err := h.login(t).Probe(context.Background())
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestEndpoint(t *testing.T) {
	h := newHarness(t, map[platform.Line]string{platform.LineKodo: "https://kodo.example"})
	s := h.login(t)

	ep, err := s.Endpoint(platform.LineKodo)
	require.NoError(t, err)
	assert.Equal(t, "https://kodo.example", ep.URL)

	ep, err = s.Endpoint(platform.LineBDA2)
	require.NoError(t, err)
	assert.Empty(t, ep.URL)

	_, err = s.Endpoint(platform.LineAuto)
	assert.ErrorIs(t, err, platform.ErrUnknownLine)
}

func TestUploadReportsProgress(t *testing.T) {
	h := newHarness(t, map[platform.Line]string{platform.LineKodo: "https://kodo.example"})
	s := h.login(t)

	path := filepath.Join(t.TempDir(), "rec.FLV")
	content := append([]byte("FLV\x01\x05\x00\x00\x00\x09"), make([]byte, 70_000)...)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	var sent int64
	video, err := s.Upload(context.Background(), path, platform.Endpoint{Line: platform.LineKodo, URL: "https://kodo.example"}, 4,
		func(n int64) { sent += n })
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), sent)
	assert.True(t, strings.HasPrefix(video.Filename, "videos/"))
	assert.True(t, strings.HasSuffix(video.Filename, ".flv"))

	st := h.stores["https://kodo.example"]
	assert.Equal(t, content, st.objects[video.Filename])
	assert.Equal(t, "video/x-flv", st.contentTypes[video.Filename])
	assert.Equal(t, 4, st.concurrency)
	assert.Empty(t, h.stores[""].objects)
}

func TestArchiveLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	s := h.login(t)
	ctx := context.Background()

	aid, err := s.SubmitArchive(ctx, &platform.Archive{Title: "live", Videos: []platform.Video{{Filename: "videos/a.flv"}}})
	require.NoError(t, err)
	assert.Positive(t, aid)

	a, err := s.FetchArchive(ctx, aid)
	require.NoError(t, err)
	assert.Equal(t, aid, a.AID)
	assert.Equal(t, "live", a.Title)

	a.Videos = append(a.Videos, platform.Video{Filename: "videos/b.flv"})
	got, err := s.EditArchive(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, aid, got)

	a, err = s.FetchArchive(ctx, aid)
	require.NoError(t, err)
	assert.Len(t, a.Videos, 2)

	_, err = s.EditArchive(ctx, &platform.Archive{AID: aid + 1})
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	_, err = s.FetchArchive(ctx, aid+1)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	second, err := s.SubmitArchive(ctx, &platform.Archive{Title: "other"})
	require.NoError(t, err)
	assert.NotEqual(t, aid, second)
}

func TestUploadCover(t *testing.T) {
	h := newHarness(t, nil)
	s := h.login(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	url, err := s.UploadCover(context.Background(), png)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://public.example/covers/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	key := strings.TrimPrefix(url, "https://public.example/")
	assert.True(t, h.stores[""].public[key])
	assert.Equal(t, "image/png", h.stores[""].contentTypes[key])

	_, err = s.UploadCover(context.Background(), []byte("plain text"))
	assert.Error(t, err)
}
