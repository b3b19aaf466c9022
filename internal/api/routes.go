package api

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dataforge/bqm2-engine/internal/api/auth"
	"github.com/dataforge/bqm2-engine/internal/store"
	"github.com/dataforge/bqm2-engine/internal/store/cache"
)

// registerRoutes mounts the /dataforge routes of SPEC_FULL.md §12.7: CRUD
// for connections and queries (read routes open, write routes behind the
// JWT guard when issuer is non-nil), plus the execute/status pair that
// drives a build. Job executions have only the GET-by-id read route.
func (s *Server) registerRoutes(issuer *auth.Issuer) {
	g := s.Echo.Group("/dataforge")

	g.GET("/connections", s.listConnections)
	g.GET("/connections/:id", s.getConnection)
	g.GET("/queries", s.listQueries)
	g.GET("/queries/:id", s.getQuery)
	g.GET("/job-executions/:id", s.getJobExecution)

	write := g.Group("")
	if issuer != nil {
		write.Use(issuer.EchoMiddleware())
	}
	write.POST("/connections", s.createConnection)
	write.PUT("/connections/:id", s.updateConnection)
	write.DELETE("/connections/:id", s.deleteConnection)
	write.POST("/queries", s.createQuery)
	write.PUT("/queries/:id", s.updateQuery)
	write.DELETE("/queries/:id", s.deleteQuery)
	write.POST("/execute", s.execute)
}

func (s *Server) listConnections(c echo.Context) error {
	list, err := s.docs.ListConnections(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getConnection(c echo.Context) error {
	conn, err := s.docs.GetConnection(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conn)
}

func (s *Server) createConnection(c echo.Context) error {
	var conn store.Connection
	if err := c.Bind(&conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conn.ID = uuid.New().String()
	now := time.Now()
	conn.CreatedAt, conn.UpdatedAt = now, now

	if err := s.docs.PutConnection(c.Request().Context(), &conn); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, conn)
}

func (s *Server) updateConnection(c echo.Context) error {
	existing, err := s.docs.GetConnection(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := c.Bind(existing); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	existing.ID = c.Param("id")
	existing.UpdatedAt = time.Now()

	if err := s.docs.PutConnection(c.Request().Context(), existing); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, existing)
}

func (s *Server) deleteConnection(c echo.Context) error {
	if err := s.docs.DeleteConnection(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listQueries(c echo.Context) error {
	list, err := s.docs.ListQueries(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getQuery(c echo.Context) error {
	q, err := s.docs.GetQuery(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) createQuery(c echo.Context) error {
	var q store.Query
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ID = uuid.New().String()
	now := time.Now()
	q.CreatedAt, q.UpdatedAt = now, now

	if err := s.docs.PutQuery(c.Request().Context(), &q); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, q)
}

func (s *Server) updateQuery(c echo.Context) error {
	existing, err := s.docs.GetQuery(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := c.Bind(existing); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	existing.ID = c.Param("id")
	existing.UpdatedAt = time.Now()

	if err := s.docs.PutQuery(c.Request().Context(), existing); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, existing)
}

func (s *Server) deleteQuery(c echo.Context) error {
	if err := s.docs.DeleteQuery(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getJobExecution(c echo.Context) error {
	job, err := s.docs.GetJobExecution(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := map[string]interface{}{"jobExecution": job}
	if job.CompletedAt != nil {
		resp["duration"] = humanize.RelTime(job.StartedAt, *job.CompletedAt, "", "")
	} else {
		resp["running"] = humanize.RelTime(job.StartedAt, time.Now(), "ago", "")
	}
	return c.JSON(http.StatusOK, resp)
}

type executeRequest struct {
	QueryID string `json:"queryId"`
}

// execute performs a synchronous run of the named Query's folder: it locks
// the query ID against concurrent double-submission, runs the same
// loader/graph/executor pipeline the CLI uses, and records a JobExecution
// row with the outcome, per SPEC_FULL.md §12.7's `POST /dataforge/execute`.
func (s *Server) execute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	q, err := s.docs.GetQuery(ctx, req.QueryID)
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "unknown queryId")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := s.cache.Lock(ctx, q.ID, 30*time.Minute); err == cache.ErrAlreadyLocked {
		return echo.NewHTTPError(http.StatusConflict, "a run for this query is already in flight")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer s.cache.Unlock(ctx, q.ID)

	job := &store.JobExecution{
		ID:        uuid.New().String(),
		QueryID:   q.ID,
		Status:    "running",
		StartedAt: time.Now(),
	}
	_ = s.cache.SetStatus(ctx, job.ID, job.Status, 30*time.Minute)

	resourceKeys, failedKeys, runErr := s.run(ctx, q.FolderPath)

	completed := time.Now()
	job.CompletedAt = &completed
	job.ResourceKeys = resourceKeys
	job.FailedKeys = failedKeys
	if runErr != nil {
		job.Status = "failed"
		job.Error = runErr.Error()
	} else {
		job.Status = "completed"
	}
	_ = s.cache.SetStatus(ctx, job.ID, job.Status, 30*time.Minute)

	if err := s.docs.PutJobExecution(ctx, job); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	status := http.StatusOK
	if runErr != nil {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, job)
}
