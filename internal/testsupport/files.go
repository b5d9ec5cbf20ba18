package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aura-webinar/uploadmgr/internal/models"
)

// WriteFile fills path with size bytes of a repeating pattern. A size <= 0
// writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}
	for remaining := size; remaining > 0; {
		n := int64(chunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(buf[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= n
	}
}

// Event builds an uploadable FileClosed event.
func Event(id string, roomID uint64, openTime, relativePath string) *models.RecordingEvent {
	return &models.RecordingEvent{
		EventID:   id,
		EventType: models.EventTypeFileClosed,
		EventData: models.EventData{
			RoomID:       roomID,
			Name:         "streamer",
			Title:        "title",
			RelativePath: relativePath,
			FileOpenTime: openTime,
			FileSize:     2048,
			Duration:     120,
		},
	}
}
