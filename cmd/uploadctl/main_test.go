package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/uploadmgr/internal/auth"
	"github.com/aura-webinar/uploadmgr/internal/models"
)

const recordingFile = "录制-3-20240305-021000-123-Morning stream.flv"

// writeFLV writes a minimal FLV whose metadata carries duration.
func writeFLV(t *testing.T, path string, duration float64) {
	t.Helper()
	var meta bytes.Buffer
	meta.WriteString("\x02\x00\x0aonMetaData\x08\x00\x00\x00\x01\x00\x08duration\x00")
	var f [8]byte
	binary.BigEndian.PutUint64(f[:], math.Float64bits(duration))
	meta.Write(f[:])

	var b bytes.Buffer
	b.Write([]byte{'F', 'L', 'V', 0x01, 0x05, 0, 0, 0, 9, 0, 0, 0, 0})
	n := meta.Len()
	b.Write([]byte{0x12, byte(n >> 16), byte(n >> 8), byte(n), 0, 0, 0, 0, 0, 0, 0})
	b.Write(meta.Bytes())
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEventFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), recordingFile)
	writeFLV(t, path, 3600.5)

	ev, err := eventFromFile(path, "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, models.EventTypeFileClosed, ev.EventType)
	d := ev.EventData
	assert.Equal(t, uint64(3), d.RoomID)
	assert.Equal(t, "alice", d.Name)
	assert.Equal(t, "Morning stream", d.Title)
	assert.Equal(t, "3-alice/"+recordingFile, d.RelativePath)
	assert.Equal(t, "2024-03-05T02:10:00.123+08:00", d.FileOpenTime)
	assert.Equal(t, 3600.5, d.Duration)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(info.Size()), d.FileSize)

	assert.True(t, ev.Uploadable())
	assert.Equal(t, "2024.03.04", d.DateString())
}

func TestEventFromFileRejectsOtherNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holiday.flv")
	writeFLV(t, path, 100)
	_, err := eventFromFile(path, "alice")
	assert.ErrorIs(t, err, errNotRecording)
}

func TestSendCommand(t *testing.T) {
	var got models.RecordingEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recorder", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), recordingFile)
	writeFLV(t, path, 60)

	out, err := runCommand(t, "send", path, "--name", "alice", "--server", srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), ": OK"))
	assert.Equal(t, uint64(3), got.EventData.RoomID)
	assert.Equal(t, 60.0, got.EventData.Duration)
}

func TestSendRequiresName(t *testing.T) {
	_, err := runCommand(t, "send", "whatever.flv")
	assert.Error(t, err)
}

func TestRetryCommandSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/retry/ev-1", r.URL.Path)
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("Busy"))
	}))
	defer srv.Close()

	out, err := runCommand(t, "retry", "ev-1", "--token", "tkn", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Busy\n", out)
}

func TestStatCommandPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"current":null,"uploaded":0,"uploads":[]}`))
	}))
	defer srv.Close()

	out, err := runCommand(t, "stat", "--server", srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":null,"uploaded":0,"uploads":[]}`, out)
	assert.Contains(t, out, "\n  \"uploaded\": 0")
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing authorization header", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := runCommand(t, "retry", "ev-1", "--server", srv.URL)
	assert.ErrorContains(t, err, "status 401")
}

func TestTokenCommand(t *testing.T) {
	out, err := runCommand(t, "token", "--secret", "s3cret", "--operator", "alice")
	require.NoError(t, err)

	claims, err := auth.NewJWTService("s3cret", 1).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, auth.RoleOperator, claims.Role)
}
