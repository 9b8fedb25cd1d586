package worker

import (
	"testing"

	"github.com/google/uuid"
)

func TestDecodeJob(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name     string
		body     string
		wantType JobType
		wantErr  bool
	}{
		{
			name:     "explicit transcode",
			body:     `{"type":"transcode","videoId":"` + id.String() + `","inputKey":"raw/v1.mp4"}`,
			wantType: JobTypeTranscode,
		},
		{
			name:     "absent type defaults to transcode",
			body:     `{"videoId":"` + id.String() + `","inputKey":"raw/v1.mp4"}`,
			wantType: JobTypeTranscode,
		},
		{
			name:     "start live stream",
			body:     `{"type":"start-live-stream","videoId":"` + id.String() + `","inputSource":"rtmp://src"}`,
			wantType: JobTypeStartLiveStream,
		},
		{
			name:     "stop live stream",
			body:     `{"type":"stop-live-stream","videoId":"` + id.String() + `","convertToVOD":true}`,
			wantType: JobTypeStopLiveStream,
		},
		{name: "malformed json", body: `{nope`, wantErr: true},
		{name: "missing videoId", body: `{"type":"transcode","inputKey":"raw/v1.mp4"}`, wantErr: true},
		{name: "transcode missing inputKey", body: `{"videoId":"` + id.String() + `"}`, wantErr: true},
		{name: "start missing inputSource", body: `{"type":"start-live-stream","videoId":"` + id.String() + `"}`, wantErr: true},
		{name: "unknown type", body: `{"type":"defragment","videoId":"` + id.String() + `"}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job, err := DecodeJob([]byte(tc.body))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Type != tc.wantType {
				t.Errorf("expected type %s, got %s", tc.wantType, job.Type)
			}
			if job.VideoID != id {
				t.Errorf("expected videoId %s, got %s", id, job.VideoID)
			}
		})
	}
}

func TestDecodeJob_ConvertToVODFlag(t *testing.T) {
	id := uuid.New()
	job, err := DecodeJob([]byte(`{"type":"stop-live-stream","videoId":"` + id.String() + `","convertToVOD":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !job.ConvertToVOD {
		t.Error("expected convertToVOD true")
	}
}
