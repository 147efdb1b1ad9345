package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/kill-orphan/internal/api/models"
	"github.com/smazurov/kill-orphan/internal/logging"
	"github.com/smazurov/kill-orphan/internal/version"
)

func (s *Server) registerSystemRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				GoVersion: v.GoVersion,
				Platform:  v.Platform,
			},
		}, nil
	})
}

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Supervisor status",
		Description: "Current state of the supervised child and its kill cascade",
		Tags:        []string{"supervisor"},
		Errors:      []int{503},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		if s.options.Status == nil {
			return nil, huma.Error503ServiceUnavailable("supervisor not started")
		}
		info := s.options.Status.Info()

		data := models.StatusData{
			RunID:         s.options.RunID,
			SupervisorPID: os.Getpid(),
			ChildPID:      info.PID,
			ParentPID:     info.ParentPID,
			Command:       info.Command,
			State:         string(info.State),
			Reason:        string(info.Reason),
			StartedAt:     info.StartedAt,
			Descendants:   info.Descendants,
			ExitCode:      info.ExitCode,
		}
		if data.Descendants == nil {
			data.Descendants = []int{}
		}
		if !info.StartedAt.IsZero() {
			data.Uptime = time.Since(info.StartedAt).Truncate(time.Millisecond).String()
		}
		if !info.TerminatingSince.IsZero() {
			since := info.TerminatingSince
			data.TerminatingSince = &since
		}
		return &models.StatusResponse{Body: data}, nil
	})
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent logs",
		Description: "Most recent log entries of this run, oldest first",
		Tags:        []string{"logs"},
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		var entries []logging.LogEntry
		if input.Module == "" {
			entries = logging.GetBuffer().Last(input.Limit)
		} else {
			all := logging.GetBuffer().ReadAll()
			for i := len(all) - 1; i >= 0 && len(entries) < input.Limit; i-- {
				if all[i].Module == input.Module {
					entries = append(entries, all[i])
				}
			}
			// collected newest first
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}

		data := models.LogsData{Entries: make([]models.LogEntryData, 0, len(entries))}
		for _, e := range entries {
			data.Entries = append(data.Entries, models.LogEntryData{
				Timestamp:  e.Timestamp,
				Level:      e.Level,
				Module:     e.Module,
				Message:    e.Message,
				Attributes: e.Attributes,
			})
		}
		data.Count = len(data.Entries)
		return &models.LogsResponse{Body: data}, nil
	})
}
