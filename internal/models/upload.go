package models

import (
	"strconv"
	"time"
)

// UploadJob is the bookkeeping row for one recording event.
type UploadJob struct {
	ID         int64      `json:"id"`
	EventID    string     `json:"event_id"`
	Uploaded   bool       `json:"uploaded"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	AVID       *int64     `json:"avid,omitempty"`
	Archive    *string    `json:"archive,omitempty"`
}

// UploadState is a pending job as reported by GET /stat.
type UploadState struct {
	EventID      string   `json:"event_id"`
	CreatedAt    UnixTime `json:"created_at"`
	RelativePath string   `json:"relative_path"`
	FileSize     int64    `json:"file_size"`
}

// UploadStatus is the GET /stat body.
type UploadStatus struct {
	Current  *string       `json:"current"`
	Uploaded int64         `json:"uploaded"`
	Uploads  []UploadState `json:"uploads"`
}

// UploadHistory is a finished job as reported by GET /history.
type UploadHistory struct {
	FinishedAt   UnixTime `json:"finished_at"`
	RelativePath string   `json:"relative_path"`
	FileSize     int64    `json:"file_size"`
	AVID         *int64   `json:"avid"`
}

// UnixTime marshals as integer seconds since the epoch.
type UnixTime struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (t UnixTime) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, t.Unix(), 10), nil
}
