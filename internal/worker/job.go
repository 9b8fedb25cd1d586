package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeTranscode       JobType = "transcode"
	JobTypeStartLiveStream JobType = "start-live-stream"
	JobTypeStopLiveStream  JobType = "stop-live-stream"
)

// Job is a queue message decoded into one of the worker's job variants.
type Job struct {
	Type         JobType   `json:"type,omitempty"`
	VideoID      uuid.UUID `json:"videoId"`
	InputKey     string    `json:"inputKey,omitempty"`
	InputSource  string    `json:"inputSource,omitempty"`
	ConvertToVOD bool      `json:"convertToVOD,omitempty"`
}

// DecodeJob parses a queue payload and validates the fields its variant
// needs. An absent type means transcode; older producers never set one.
func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if j.Type == "" {
		j.Type = JobTypeTranscode
	}
	if j.VideoID == uuid.Nil {
		return Job{}, errors.New("job missing videoId")
	}
	switch j.Type {
	case JobTypeTranscode:
		if j.InputKey == "" {
			return Job{}, errors.New("transcode job missing inputKey")
		}
	case JobTypeStartLiveStream:
		if j.InputSource == "" {
			return Job{}, errors.New("start-live-stream job missing inputSource")
		}
	case JobTypeStopLiveStream:
		// videoId is enough.
	default:
		return Job{}, fmt.Errorf("unknown job type %q", j.Type)
	}
	return j, nil
}
