package api

import (
	"net/http"

	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/health"
	"github.com/mp3forge/backend/internal/logger"
	"github.com/mp3forge/backend/internal/metrics"
	"github.com/mp3forge/backend/internal/websocket"
)

type Router struct {
	mux        *http.ServeMux
	conversion *ConversionHandlers
	files      *FileHandlers
	progress   *ProgressHandlers
	ws         *websocket.Handler
	health     *health.Handler
	metrics    *metrics.Metrics
}

func NewRouter(conversion *ConversionHandlers, files *FileHandlers, progress *ProgressHandlers, ws *websocket.Handler, healthHandler *health.Handler, m *metrics.Metrics) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		conversion: conversion,
		files:      files,
		progress:   progress,
		ws:         ws,
		health:     healthHandler,
		metrics:    m,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)
	handler = metrics.MetricsMiddleware(r.metrics)(handler)
	handler = logger.LoggingMiddleware(handler)
	handler = apperrors.RequestIDMiddleware(handler)
	handler = logger.RecoveryMiddleware(handler)
	handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health and metrics
	r.mux.HandleFunc("GET /health", r.health.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.health.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.health.ReadinessHandler)
	r.mux.HandleFunc("GET /metrics", r.metrics.Handler())

	// Upload and job lifecycle
	r.mux.HandleFunc("POST /api/v1/files/upload", apperrors.HandleFunc(r.conversion.Upload))
	r.mux.HandleFunc("POST /api/v1/convert/start/{job_id}", apperrors.HandleFunc(r.conversion.Start))
	r.mux.HandleFunc("GET /api/v1/convert/status/{job_id}", apperrors.HandleFunc(r.conversion.Status))
	r.mux.HandleFunc("POST /api/v1/convert/cancel/{job_id}", apperrors.HandleFunc(r.conversion.Cancel))
	r.mux.HandleFunc("GET /api/v1/jobs", apperrors.HandleFunc(r.conversion.List))
	r.mux.HandleFunc("DELETE /api/v1/jobs/{job_id}", apperrors.HandleFunc(r.conversion.Delete))

	// Converted artifacts
	r.mux.HandleFunc("GET /api/v1/files/download/{job_id}/{file_id}", apperrors.HandleFunc(r.files.Download))
	r.mux.HandleFunc("GET /api/v1/files/download-zip/{job_id}", apperrors.HandleFunc(r.files.DownloadZip))
	r.mux.HandleFunc("GET /api/v1/files/disk-usage/{job_id}", apperrors.HandleFunc(r.files.DiskUsage))
	r.mux.HandleFunc("DELETE /api/v1/files/cleanup/{job_id}", apperrors.HandleFunc(r.files.Cleanup))

	// Live progress feeds
	r.mux.HandleFunc("GET /api/v1/progress/{job_id}", apperrors.HandleFunc(r.progress.Stream))
	r.mux.HandleFunc("GET /api/v1/ws/progress/{job_id}", r.ws.ServeWS)
}
