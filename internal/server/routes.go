package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/boxctl/internal/boxes"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/task"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type taskView struct {
	task.Snapshot
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

func viewOf(snap task.Snapshot) taskView {
	v := taskView{Snapshot: snap}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
		code := runner.ExitCode(snap.Err)
		v.ExitCode = &code
	}
	return v
}

type containersView struct {
	Containers []boxes.Container `json:"containers"`
	Loading    bool              `json:"loading"`
	Error      string            `json:"error,omitempty"`
	Generation uint64            `json:"generation"`
	FetchedAt  time.Time         `json:"fetched_at,omitzero"`
}

// runRequest starts a command as a tracked task.
type runRequest struct {
	Name   string            `json:"name"`
	Target string            `json:"target"`
	Argv   []string          `json:"argv"`
	Dir    string            `json:"dir"`
	Env    map[string]string `json:"env"`
}

func (r runRequest) spec() (runner.CommandSpec, error) {
	if len(r.Argv) == 0 || strings.TrimSpace(r.Argv[0]) == "" {
		return runner.CommandSpec{}, runner.ErrEmptySpec
	}
	spec := runner.Command(r.Argv[0], r.Argv[1:]...).WithDir(r.Dir)
	for k, v := range r.Env {
		spec = spec.WithEnv(k, v)
	}
	return spec, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "boxctl",
			"warning":   s.tasks.HasWarning(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded := s.router.Group("/", s.requireToken())

	s.router.GET("/tasks", func(c *gin.Context) {
		list := s.tasks.List()
		out := make([]taskView, 0, len(list))
		for _, t := range list {
			out = append(out, viewOf(t.Snapshot()))
		}
		c.JSON(http.StatusOK, gin.H{"tasks": out})
	})

	guarded.POST("/tasks", func(c *gin.Context) {
		var req runRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		spec, err := req.spec()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = spec.String()
		}
		t := s.tasks.RunCommand(name, req.Target, spec)
		c.JSON(http.StatusAccepted, viewOf(t.Snapshot()))
	})

	guarded.POST("/tasks/clear", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"removed": s.tasks.ClearEnded()})
	})

	s.router.GET("/tasks/:id", func(c *gin.Context) {
		t, ok := s.tasks.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, viewOf(t.Snapshot()))
	})

	guarded.POST("/tasks/:id/cancel", func(c *gin.Context) {
		t, ok := s.tasks.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		t.Cancel()
		c.JSON(http.StatusAccepted, gin.H{"id": t.ID(), "cancelled": true})
	})

	guarded.DELETE("/tasks/:id", func(c *gin.Context) {
		err := s.tasks.Dismiss(c.Param("id"))
		switch {
		case errors.Is(err, task.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, task.ErrNotEnded):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			log.Error().Err(err).Msg("server.Server dismiss failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.Status(http.StatusNoContent)
		}
	})

	s.router.GET("/containers", func(c *gin.Context) {
		st := s.boxes.Query().State()
		list := s.boxes.Containers()
		if list == nil {
			list = []boxes.Container{}
		}
		v := containersView{
			Containers: list,
			Loading:    st.IsLoading,
			Generation: st.Generation,
			FetchedAt:  st.LastFetchedAt,
		}
		if st.Err != nil {
			v.Error = st.Err.Error()
		}
		c.JSON(http.StatusOK, v)
	})

	guarded.POST("/containers/refresh", func(c *gin.Context) {
		s.boxes.Refresh()
		c.JSON(http.StatusAccepted, gin.H{"refreshing": true})
	})
}
