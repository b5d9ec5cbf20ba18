// Package platform defines the contract with the remote video platform that
// hosts the archives: login, upload lines, video parts and archive submission.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Line is a named upload transport. The set is closed; LineAuto asks the
// platform to probe for the best endpoint.
type Line string

const (
	LineBDA2        Line = "bda2"
	LineKodo        Line = "kodo"
	LineWS          Line = "ws"
	LineQN          Line = "qn"
	LineCOS         Line = "cos"
	LineCOSInternal Line = "cos-internal"
	LineAuto        Line = "AUTO"
)

// ErrUnknownLine is returned for line names outside the known set.
var ErrUnknownLine = errors.New("unknown upload line")

// Lines lists the fixed (non-probed) lines.
var Lines = []Line{LineBDA2, LineKodo, LineWS, LineQN, LineCOS, LineCOSInternal}

// ParseLine validates a configured line name. Matching for "auto" is case-insensitive.
func ParseLine(name string) (Line, error) {
	if strings.EqualFold(name, string(LineAuto)) {
		return LineAuto, nil
	}
	for _, l := range Lines {
		if string(l) == name {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLine, name)
}

// Endpoint is a resolved upload line.
type Endpoint struct {
	Line Line
	URL  string // empty means the platform default
}

// Video is one uploaded part of an archive.
type Video struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
}

// Archive is a submission that groups one or more video parts.
type Archive struct {
	AID       int64   `json:"aid,omitempty"`
	Copyright int     `json:"copyright"`
	Source    string  `json:"source"`
	TID       uint16  `json:"tid"`
	Cover     string  `json:"cover"`
	Title     string  `json:"title"`
	Desc      string  `json:"desc"`
	Tag       string  `json:"tag"`
	Videos    []Video `json:"videos"`
}

// ProgressFunc receives the length of every chunk handed to the platform.
type ProgressFunc func(n int64)

// Client opens authenticated sessions.
type Client interface {
	Login(ctx context.Context, credentials string) (Session, error)
}

// Prober picks the best endpoint when the line is LineAuto.
type Prober interface {
	Probe(ctx context.Context) (Endpoint, error)
}

// Session is an authenticated connection to the platform.
type Session interface {
	Prober
	// Endpoint returns the endpoint for a fixed line.
	Endpoint(line Line) (Endpoint, error)
	Upload(ctx context.Context, path string, ep Endpoint, concurrency int, progress ProgressFunc) (*Video, error)
	FetchArchive(ctx context.Context, aid int64) (*Archive, error)
	SubmitArchive(ctx context.Context, a *Archive) (int64, error)
	EditArchive(ctx context.Context, a *Archive) (int64, error)
	UploadCover(ctx context.Context, data []byte) (string, error)
}

// SelectLine resolves line against the session, probing when it is LineAuto.
func SelectLine(ctx context.Context, s Session, line Line) (Endpoint, error) {
	if line == LineAuto {
		ep, err := s.Probe(ctx)
		if err != nil {
			return Endpoint{}, fmt.Errorf("probe line: %w", err)
		}
		return ep, nil
	}
	if _, err := ParseLine(string(line)); err != nil {
		return Endpoint{}, err
	}
	return s.Endpoint(line)
}
