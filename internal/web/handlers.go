package web

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uivision/button-detect/internal/detect"
	"github.com/uivision/button-detect/internal/imaging"
	"github.com/uivision/button-detect/internal/state"
)

// detectionResult bundles the outcome of one detection run.
type detectionResult struct {
	Image       *image.NRGBA
	Detections  []detect.Detection
	ProcessTime float64
	ImageHash   string
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"backend":        s.detector.Backend().Name(),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// handleAPIDetect handles the authenticated detection endpoint.
// Request body: {"img": "<base64 image>"}.
func (s *Server) handleAPIDetect(c *gin.Context) {
	var req struct {
		Image string `json:"img" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing "img" field`})
		return
	}

	if s.config.MaxImageBytes > 0 && len(req.Image) > s.config.MaxImageBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Image too large. Max size: " + strconv.Itoa(s.config.MaxImageBytes) + " bytes",
		})
		return
	}

	result, err := s.runDetection(c.Request.Context(), req.Image)
	if err != nil {
		s.respondDetectionError(c, err)
		return
	}

	s.logRequest(c, state.Record{
		ProcessTime: result.ProcessTime,
		ImageHash:   result.ImageHash,
		Detections:  result.Detections,
	})

	c.JSON(http.StatusOK, gin.H{
		"detections":   result.Detections,
		"process_time": result.ProcessTime,
	})
}

// handleWebDetect handles the dashboard detection endpoint. It skips
// API key auth and additionally returns the annotated image.
func (s *Server) handleWebDetect(c *gin.Context) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing image"})
		return
	}

	result, err := s.runDetection(c.Request.Context(), req.Image)
	if err != nil {
		s.respondDetectionError(c, err)
		return
	}

	boxes := make([]imaging.Box, 0, len(result.Detections))
	for _, d := range result.Detections {
		boxes = append(boxes, imaging.Box{
			X: d.Box[0], Y: d.Box[1], W: d.Box[2], H: d.Box[3],
			Label:      d.Class,
			Confidence: d.Confidence,
		})
	}
	annotated, err := imaging.Annotate(result.Image, boxes)
	if err != nil {
		s.logger.Error("Failed to annotate image", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Detection failed"})
		return
	}

	s.logRequest(c, state.Record{
		ProcessTime: result.ProcessTime,
		ImageHash:   result.ImageHash,
		Detections:  result.Detections,
		APIKey:      "web-interface",
	})

	c.JSON(http.StatusOK, gin.H{
		"detections":      result.Detections,
		"process_time":    result.ProcessTime,
		"annotated_image": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(annotated),
	})
}

// handleStats returns dashboard statistics for the trailing N days.
func (s *Server) handleStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		days = 7
	}

	stats, err := s.store.Statistics(c.Request.Context(), days)
	if err != nil {
		s.logger.Error("Failed to compute statistics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleListLogs returns a page of request log entries.
func (s *Server) handleListLogs(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	status := c.Query("status")

	const perPage = 20
	records, total, err := s.store.ListLogs(c.Request.Context(), page, perPage, status)
	if err != nil {
		s.logger.Error("Failed to list logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":     records,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// runDetection decodes the base64 image, runs the pipeline and
// measures total elapsed time (rounded to 4 decimal places).
func (s *Server) runDetection(ctx context.Context, base64Image string) (*detectionResult, error) {
	start := time.Now()

	img, err := imaging.DecodeBase64(base64Image)
	if err != nil {
		return nil, err
	}

	detections, err := s.detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	return &detectionResult{
		Image:       img,
		Detections:  detections,
		ProcessTime: math.Round(time.Since(start).Seconds()*10000) / 10000,
		ImageHash:   imaging.Hash(base64Image),
	}, nil
}

// respondDetectionError maps pipeline errors onto HTTP responses.
// Only invalid-image errors carry detail to the client; everything
// else degrades to an opaque internal error with the detail logged
// server-side.
func (s *Server) respondDetectionError(c *gin.Context, err error) {
	if errors.Is(err, imaging.ErrInvalidImage) {
		s.logger.Warn("Invalid image", "error", err)
		s.logRequest(c, state.Record{Status: "error", ErrorMessage: err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Error("Detection error", "error", err)
	s.logRequest(c, state.Record{Status: "error", ErrorMessage: err.Error()})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// logRequest persists a request log entry; failures are logged and
// never surfaced to the caller.
func (s *Server) logRequest(c *gin.Context, rec state.Record) {
	rec.ClientIP = c.ClientIP()
	if rec.APIKey == "" {
		rec.APIKey = c.GetString("api_key")
	}
	rec.ID = c.GetString("request_id")

	if err := s.store.LogDetection(c.Request.Context(), rec); err != nil {
		s.logger.Error("Failed to log detection", "error", err)
	}
}
