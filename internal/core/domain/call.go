package domain

import (
	"fmt"
	"strings"
	"time"
)

type CallStatus string

const (
	StatusUploaded     CallStatus = "uploaded"
	StatusTranscribing CallStatus = "transcribing"
	StatusAnalyzing    CallStatus = "analyzing"
	StatusCompleted    CallStatus = "completed"
	StatusFailed       CallStatus = "failed"
)

// Call is one uploaded audio artifact and its processing record.
type Call struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	FilePath         string     `json:"file_path"`
	FileSize         int64      `json:"file_size"`
	Status           CallStatus `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Transcripts []Transcript `json:"transcripts,omitempty"`
	Insights    []Insight    `json:"insights,omitempty"`
}

// Transcript is one persisted speaker utterance belonging to a call.
type Transcript struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	Confidence *float64  `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Utterance is one speaker turn as returned by the transcription provider.
type Utterance struct {
	Speaker    string   `json:"speaker"`
	Text       string   `json:"text"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// StatusUpdate carries the fields written together with a status transition.
type StatusUpdate struct {
	ErrorMessage    string
	DurationSeconds *float64
}

// CallStatusSnapshot is the lightweight polling view of a call.
type CallStatusSnapshot struct {
	CallID       string     `json:"call_id"`
	Status       CallStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// CallPage is one page of a call listing plus the full filtered count.
type CallPage struct {
	Calls []Call `json:"calls"`
	Total int    `json:"total"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

func ParseCallStatus(raw string) (CallStatus, error) {
	status := CallStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusUploaded, StatusTranscribing, StatusAnalyzing, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse call status", fmt.Errorf("unknown status %q", raw))
	}
}

// FullTranscriptText joins utterances into the "Speaker: text" form handed to
// the analysis provider.
func FullTranscriptText(transcripts []Transcript) string {
	lines := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		lines = append(lines, t.Speaker+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

// CallDuration derives the audio duration from the last utterance offset.
func CallDuration(utterances []Utterance) float64 {
	var max float64
	for _, u := range utterances {
		if u.EndTime > max {
			max = u.EndTime
		}
	}
	return max
}
