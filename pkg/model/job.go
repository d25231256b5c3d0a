package model

import (
	"encoding/json"
	"time"
)

// Job describes a job to start on the platform. It is built once by the
// caller, submitted once, and never mutated afterwards.
type Job struct {
	RecipeName                  string
	Facility                    string
	Duration                    time.Duration
	StartDelay                  time.Duration
	ReportToDatabaseEnabled     bool
	ReportToMessageQueueEnabled bool
}

type jobWire struct {
	RecipeName                  string `json:"recipeName"`
	Facility                    string `json:"facility,omitempty"`
	DurationSeconds             int64  `json:"durationSeconds"`
	StartDelay                  string `json:"startDelay"`
	ReportToDatabaseEnabled     bool   `json:"reportToDatabaseEnabled"`
	ReportToMessageQueueEnabled bool   `json:"reportToMessageQueueEnabled"`
}

// MarshalJSON encodes the job in the shape the job-start endpoint accepts.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobWire{
		RecipeName:                  j.RecipeName,
		Facility:                    j.Facility,
		DurationSeconds:             int64(j.Duration / time.Second),
		StartDelay:                  FormatISODuration(j.StartDelay),
		ReportToDatabaseEnabled:     j.ReportToDatabaseEnabled,
		ReportToMessageQueueEnabled: j.ReportToMessageQueueEnabled,
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var delay time.Duration
	if w.StartDelay != "" {
		d, err := ParseISODuration(w.StartDelay)
		if err != nil {
			return err
		}
		delay = d
	}
	*j = Job{
		RecipeName:                  w.RecipeName,
		Facility:                    w.Facility,
		Duration:                    time.Duration(w.DurationSeconds) * time.Second,
		StartDelay:                  delay,
		ReportToDatabaseEnabled:     w.ReportToDatabaseEnabled,
		ReportToMessageQueueEnabled: w.ReportToMessageQueueEnabled,
	}
	return nil
}

// JobResponse is the platform's echo of a started job.
// CreationTime is the authoritative watermark for the run.
type JobResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status,omitempty"`
	CreationTime string `json:"creationTime"`
}

// CreatedAt parses CreationTime.
func (r *JobResponse) CreatedAt() (time.Time, error) {
	return ParseTimestamp(r.CreationTime)
}
