// Package models holds the request and response bodies of the status API.
package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" doc:"Git commit hash"`
	BuildDate string `json:"build_date" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Status models
type StatusData struct {
	RunID            string     `json:"run_id" doc:"Identifier of this supervisor run"`
	SupervisorPID    int        `json:"supervisor_pid" example:"4100" doc:"PID of kill-orphan itself"`
	ChildPID         int        `json:"child_pid" example:"4101" doc:"PID of the supervised child"`
	ParentPID        int        `json:"parent_pid" example:"4000" doc:"PID whose disappearance triggers the cascade"`
	Command          []string   `json:"command" doc:"Command line of the child"`
	State            string     `json:"state" example:"running" enum:"running,terminating,exited,gave_up" doc:"Supervisor state"`
	Reason           string     `json:"reason,omitempty" example:"signal" doc:"Why termination started"`
	StartedAt        time.Time  `json:"started_at" doc:"When the child was spawned"`
	Uptime           string     `json:"uptime" example:"1m30s" doc:"Time since the child was spawned"`
	TerminatingSince *time.Time `json:"terminating_since,omitempty" doc:"When the kill cascade started"`
	Descendants      []int      `json:"descendants" doc:"Descendants targeted by the cascade"`
	ExitCode         *int       `json:"exit_code,omitempty" doc:"Exit code kill-orphan will report"`
}

type StatusResponse struct {
	Body StatusData
}

// Log models
type LogsInput struct {
	Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"500" doc:"Maximum number of entries"`
	Module string `query:"module" doc:"Only entries from this module"`
}

type LogEntryData struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level" example:"INFO"`
	Module     string         `json:"module" example:"supervisor"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type LogsData struct {
	Entries []LogEntryData `json:"entries"`
	Count   int            `json:"count"`
}

type LogsResponse struct {
	Body LogsData
}
