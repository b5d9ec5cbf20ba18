package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// EventTypeFileClosed is the only recorder event that produces an upload.
	EventTypeFileClosed = "FileClosed"
	// MinDuration is the shortest recording (seconds) worth uploading.
	MinDuration = 10.0
	// broadcastDayCutoff is the hour before which a stream belongs to the previous day.
	broadcastDayCutoff = 4
)

// displayZone is the fixed UTC+8 zone used for on-platform file names.
var displayZone = time.FixedZone("UTC+8", 8*60*60)

// RecordingEvent is the payload the recorder posts when it closes a file.
type RecordingEvent struct {
	EventID   string    `json:"EventId"`
	EventType string    `json:"EventType"`
	EventData EventData `json:"EventData"`
}

// EventData describes the recorded file.
type EventData struct {
	RoomID       uint64  `json:"RoomId"`
	Name         string  `json:"Name"`
	Title        string  `json:"Title"`
	RelativePath string  `json:"RelativePath"`
	FileOpenTime string  `json:"FileOpenTime"` // RFC 3339 with explicit offset
	FileSize     uint64  `json:"FileSize"`
	Duration     float64 `json:"Duration"`
}

// Uploadable reports whether the event should be persisted and queued.
// Anything else is acknowledged and dropped.
func (e *RecordingEvent) Uploadable() bool {
	if e.EventType != EventTypeFileClosed || e.EventID == "" {
		return false
	}
	if e.EventData.Duration < MinDuration {
		return false
	}
	_, err := e.EventData.OpenTime()
	return err == nil
}

// OpenTime parses FileOpenTime keeping the producer's offset.
func (d *EventData) OpenTime() (time.Time, error) {
	return time.Parse(time.RFC3339, d.FileOpenTime)
}

// Format expands a title template:
//
//	%T  stream title
//	%N  streamer name
//	%d  broadcast date, YYYY.MM.DD
//	%t  open time in UTC+8, YYYYMMDD-HHMMSS
//
// Any other %x pair is copied as is and a trailing % is kept.
func (d *EventData) Format(template string) string {
	var b strings.Builder
	for i := 0; i < len(template); {
		c := template[i]
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		if i == len(template)-1 {
			b.WriteByte('%')
			break
		}
		r, size := utf8.DecodeRuneInString(template[i+1:])
		switch r {
		case 'T':
			b.WriteString(d.Title)
		case 'N':
			b.WriteString(d.Name)
		case 'd':
			b.WriteString(d.DateString())
		case 't':
			b.WriteString(d.TimeString())
		default:
			b.WriteString(template[i : i+1+size])
		}
		i += 1 + size
	}
	return b.String()
}

// DateString returns the broadcast day of the recording. Streams opened
// between midnight and 04:00 count towards the previous day.
func (d *EventData) DateString() string {
	t, err := d.OpenTime()
	if err != nil {
		return ""
	}
	if t.Hour() < broadcastDayCutoff {
		t = t.Add(-broadcastDayCutoff * time.Hour)
	}
	return t.Format("2006.01.02")
}

// TimeString returns the open time in UTC+8 regardless of the event offset.
func (d *EventData) TimeString() string {
	t, err := d.OpenTime()
	if err != nil {
		return ""
	}
	return t.In(displayZone).Format("20060102-150405")
}
