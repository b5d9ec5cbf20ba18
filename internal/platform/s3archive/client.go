// Package s3archive implements the archive platform on S3-compatible object
// storage. Video parts and covers are plain objects; archives are JSON
// manifests keyed by a snowflake id.
package s3archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/uploadmgr/internal/platform"
	"github.com/aura-webinar/uploadmgr/pkg/storage"
)

// ErrNoEndpoint is returned by Probe when no configured endpoint answered.
var ErrNoEndpoint = errors.New("no reachable upload endpoint")

// Config configures the adapter.
type Config struct {
	Region        string
	Bucket        string
	PublicBaseURL string
	// Endpoints maps fixed lines to S3-compatible endpoint URLs. A line without
	// an entry uses the default AWS endpoint.
	Endpoints map[platform.Line]string
	// NodeID seeds archive id generation; 0..1023.
	NodeID int64
	// Fallback is used by rooms without a credentials file. Empty selects the
	// default AWS chain.
	Fallback Credentials
}

// objectStore is the slice of storage.S3 the adapter uses.
type objectStore interface {
	HeadBucket(ctx context.Context) error
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64, concurrency int, publicRead bool) (string, error)
	PutJSON(ctx context.Context, key string, v interface{}) error
	GetJSON(ctx context.Context, key string, v interface{}) error
	PublicObjectURL(key string) string
}

type storeFactory func(ctx context.Context, creds Credentials, endpoint string) (objectStore, error)

// Client is the platform.Client for S3 archives.
type Client struct {
	cfg      Config
	node     *snowflake.Node
	newStore storeFactory
	logger   *zap.Logger
}

var _ platform.Client = (*Client)(nil)

// NewClient creates the adapter.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("archive id generator: %w", err)
	}
	c := &Client{cfg: cfg, node: node, logger: logger}
	c.newStore = c.s3Store
	return c, nil
}

func (c *Client) s3Store(ctx context.Context, creds Credentials, endpoint string) (objectStore, error) {
	st, err := storage.NewS3(ctx, storage.S3Config{
		Region:          c.cfg.Region,
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Bucket:          c.cfg.Bucket,
		Endpoint:        endpoint,
		PublicBaseURL:   c.cfg.PublicBaseURL,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Login loads the credentials file and checks the archive bucket is reachable.
func (c *Client) Login(ctx context.Context, credentialsPath string) (platform.Session, error) {
	creds := c.cfg.Fallback
	if credentialsPath != "" {
		var err error
		if creds, err = LoadCredentials(credentialsPath); err != nil {
			return nil, err
		}
	}
	home, err := c.newStore(ctx, creds, "")
	if err != nil {
		return nil, err
	}
	if err := home.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &Session{
		client: c,
		creds:  creds,
		home:   home,
		stores: map[string]objectStore{"": home},
	}, nil
}

// Session is a logged-in connection; archives live behind the default endpoint.
type Session struct {
	client *Client
	creds  Credentials
	home   objectStore

	mu     sync.Mutex
	stores map[string]objectStore
}

var _ platform.Session = (*Session)(nil)

func (s *Session) store(ctx context.Context, endpoint string) (objectStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stores[endpoint]; ok {
		return st, nil
	}
	st, err := s.client.newStore(ctx, s.creds, endpoint)
	if err != nil {
		return nil, err
	}
	s.stores[endpoint] = st
	return st, nil
}

// Endpoint returns the configured URL of a fixed line.
func (s *Session) Endpoint(line platform.Line) (platform.Endpoint, error) {
	if line == platform.LineAuto {
		return platform.Endpoint{}, fmt.Errorf("%w: %s needs probing", platform.ErrUnknownLine, line)
	}
	return platform.Endpoint{Line: line, URL: s.client.cfg.Endpoints[line]}, nil
}

type probeResult struct {
	ep      platform.Endpoint
	latency time.Duration
	err     error
}

// Probe times a HeadBucket against every configured line and returns the
// fastest. With no lines configured the default endpoint is used.
func (s *Session) Probe(ctx context.Context) (platform.Endpoint, error) {
	endpoints := s.client.cfg.Endpoints
	if len(endpoints) == 0 {
		return platform.Endpoint{Line: platform.LineAuto}, nil
	}

	results := make([]probeResult, 0, len(endpoints))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for line, url := range endpoints {
		ep := platform.Endpoint{Line: line, URL: url}
		g.Go(func() error {
			var latency time.Duration
			st, err := s.store(gctx, ep.URL)
			if err == nil {
				// Only the round trip counts; client setup is serialized by s.mu.
				start := time.Now()
				err = st.HeadBucket(gctx)
				latency = time.Since(start)
			}
			mu.Lock()
			results = append(results, probeResult{ep: ep, latency: latency, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var best *probeResult
	for i := range results {
		r := &results[i]
		if r.err != nil {
			s.client.logger.Debug("line probe failed", zap.String("line", string(r.ep.Line)), zap.Error(r.err))
			continue
		}
		if best == nil || r.latency < best.latency {
			best = r
		}
	}
	if best == nil {
		return platform.Endpoint{}, ErrNoEndpoint
	}
	s.client.logger.Info("line selected", zap.String("line", string(best.ep.Line)), zap.Duration("latency", best.latency))
	return best.ep, nil
}

// Upload sends the file at path to videos/<uuid><ext> through ep.
func (s *Session) Upload(ctx context.Context, path string, ep platform.Endpoint, concurrency int, progress platform.ProgressFunc) (*platform.Video, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat recording: %w", err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind recording: %w", err)
	}

	st, err := s.store(ctx, ep.URL)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s/%s%s", storage.FolderVideos, uuid.NewString(), strings.ToLower(filepath.Ext(path)))
	if _, err := st.Upload(ctx, key, mt.String(), storage.ProgressReader(f, progress), info.Size(), concurrency, false); err != nil {
		return nil, err
	}
	return &platform.Video{Filename: key}, nil
}

// FetchArchive reads the manifest of archive aid.
func (s *Session) FetchArchive(ctx context.Context, aid int64) (*platform.Archive, error) {
	var a platform.Archive
	if err := s.home.GetJSON(ctx, storage.ArchiveKey(aid), &a); err != nil {
		return nil, err
	}
	a.AID = aid
	return &a, nil
}

// SubmitArchive stores a new manifest under a fresh id.
func (s *Session) SubmitArchive(ctx context.Context, a *platform.Archive) (int64, error) {
	stored := *a
	stored.AID = s.client.node.Generate().Int64()
	if err := s.home.PutJSON(ctx, storage.ArchiveKey(stored.AID), &stored); err != nil {
		return 0, err
	}
	return stored.AID, nil
}

// EditArchive overwrites an existing manifest.
func (s *Session) EditArchive(ctx context.Context, a *platform.Archive) (int64, error) {
	if a.AID == 0 {
		return 0, errors.New("edit archive: missing aid")
	}
	var current platform.Archive
	if err := s.home.GetJSON(ctx, storage.ArchiveKey(a.AID), &current); err != nil {
		return 0, fmt.Errorf("edit archive %d: %w", a.AID, err)
	}
	if err := s.home.PutJSON(ctx, storage.ArchiveKey(a.AID), a); err != nil {
		return 0, err
	}
	return a.AID, nil
}

// UploadCover stores an image publicly and returns its URL.
func (s *Session) UploadCover(ctx context.Context, data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("cover is %s, not an image", mt.String())
	}
	key := fmt.Sprintf("%s/%s%s", storage.FolderCovers, uuid.NewString(), mt.Extension())
	if _, err := s.home.Upload(ctx, key, mt.String(), bytes.NewReader(data), int64(len(data)), 1, true); err != nil {
		return "", err
	}
	return s.home.PublicObjectURL(key), nil
}
