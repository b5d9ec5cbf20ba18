package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aura-webinar/uploadmgr/internal/models"
	"github.com/aura-webinar/uploadmgr/pkg/flv"
)

// recordingName matches recorder file names: 录制-<room>-<YYYYMMDD>-<HHMMSS>-<mmm>-<title>.
var recordingName = regexp.MustCompile(`录制-(\d+)-(\d{4})(\d{2})(\d{2})-(\d{2})(\d{2})(\d{2})-(\d{3})-(.+)`)

var errNotRecording = errors.New("file name is not a recorder file name")

func newSendCommand(ctx *commandContext) *cobra.Command {
	var (
		name   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a FileClosed event for a recorded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := eventFromFile(args[0], name)
			if err != nil {
				return err
			}
			body, err := json.Marshal(event)
			if err != nil {
				return err
			}
			if dryRun {
				return printJSON(cmd.OutOrStdout(), body)
			}
			out, err := ctx.call(cmd.Context(), "POST", "/recorder", body, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", event.EventID, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Streamer name, used in titles and the relative path")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the event instead of sending it")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// eventFromFile builds the event the recorder would have sent for path.
func eventFromFile(path, name string) (*models.RecordingEvent, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	m := recordingName.FindStringSubmatch(stem)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", errNotRecording, base)
	}
	roomID, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("room id: %w", err)
	}
	openTime := fmt.Sprintf("%s-%s-%sT%s:%s:%s.%s+08:00", m[2], m[3], m[4], m[5], m[6], m[7], m[8])

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	duration, err := flv.FileDuration(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}

	return &models.RecordingEvent{
		EventID:   uuid.NewString(),
		EventType: models.EventTypeFileClosed,
		EventData: models.EventData{
			RoomID:       roomID,
			Name:         name,
			Title:        m[9],
			RelativePath: fmt.Sprintf("%d-%s/%s", roomID, name, base),
			FileOpenTime: openTime,
			FileSize:     uint64(info.Size()),
			Duration:     duration,
		},
	}, nil
}
