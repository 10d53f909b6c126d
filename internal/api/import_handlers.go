package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"courseadmin/internal/models"
)

const maxUploadBytes = 50 * 1024 * 1024

func (s *Server) registerImportRoutes(group *gin.RouterGroup) {
	if s.Import == nil {
		group.POST("/imports", func(c *gin.Context) { c.Status(http.StatusNotImplemented) })
		return
	}

	group.POST("/imports", s.handleUpload)
	group.GET("/imports", s.handleListJobs)
	group.GET("/imports/:id", s.handleJobStatus)
	group.POST("/imports/:id/cancel", s.handleCancelJob)
	group.POST("/imports/recover", s.handleRecover)
	group.DELETE("/imports/cleanup", s.handleCleanup)
	group.GET("/imports/failures", s.handleListFailures)
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext != ".csv" && ext != ".xlsx" && ext != ".xls" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported_file"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
		return
	}

	dstPath := filepath.Join(os.TempDir(), "import-"+uuid.NewString()+ext)
	if err := saveUploadedFile(fileHeader, dstPath); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}

	job, err := s.Import.CreateJob(c.Request.Context(), "sage")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	go func() {
		defer os.Remove(dstPath)
		s.Import.ProcessFile(context.Background(), job.ID, dstPath, ext)
	}()

	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.Import.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
		return
	}
	c.JSON(http.StatusOK, jobStatusPayload(job))
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	jobs, err := s.Import.ListJobs(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload := make([]gin.H, 0, len(jobs))
	for i := range jobs {
		payload = append(payload, jobStatusPayload(&jobs[i]))
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	err := s.Import.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
	case errors.Is(err, models.ErrJobNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "job_not_cancellable"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

func (s *Server) handleRecover(c *gin.Context) {
	recovered, err := s.Import.RecoverStale(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}

func (s *Server) handleCleanup(c *gin.Context) {
	days := 30
	if d := c.Query("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v > 0 {
			days = v
		}
	}
	deleted, err := s.Import.Cleanup(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handleListFailures(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	records, err := s.Import.ListFailures(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := s.Import.FailureCount(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "records": records})
}

func jobStatusPayload(job *models.ImportJob) gin.H {
	payload := gin.H{
		"jobId":         job.ID,
		"type":          job.Type,
		"status":        job.Status,
		"progress":      job.Progress(),
		"totalRows":     job.TotalRows,
		"processedRows": job.ProcessedRows,
		"createdAt":     job.CreatedAt,
	}
	if job.ErrorMessage != nil {
		payload["errorMessage"] = *job.ErrorMessage
	}
	if job.Summary != nil {
		payload["resultSummary"] = job.Summary
	}
	if job.CompletedAt != nil {
		payload["completedAt"] = *job.CompletedAt
	}
	return payload
}
