// Package handler exposes the report sink over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Schera-ole/scaleagent/internal/audit"
	"github.com/Schera-ole/scaleagent/internal/config"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	middlewareinternal "github.com/Schera-ole/scaleagent/internal/middleware"
	"github.com/Schera-ole/scaleagent/internal/report"
	"github.com/Schera-ole/scaleagent/internal/service"
)

// defaultListLimit applies when GET /reports has no limit parameter.
const defaultListLimit = 20

// Router builds the sink's routes. gatherer backs GET /metrics; auditLogger
// may be nil.
func Router(
	reportService *service.ReportService,
	logger *zap.SugaredLogger,
	cfg *config.SinkConfig,
	gatherer prometheus.Gatherer,
	auditLogger audit.AuditLogger,
) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middlewareinternal.LoggingMiddleware(logger))
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(15 * time.Second))

	router.Group(func(r chi.Router) {
		r.Use(middlewareinternal.AuthMiddleware(cfg.Token))
		r.Post(config.ReportPath, func(w http.ResponseWriter, r *http.Request) {
			ReportHandler(w, r, reportService, logger, cfg, auditLogger)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(middlewareinternal.GzipMiddleware)
		r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
			ListReportsHandler(w, r, reportService, logger)
		})
		r.Get("/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
			GetReportHandler(w, r, reportService)
		})
	})

	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		PingHandler(w, r, reportService, logger)
	})
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return router
}

// ReportHandler accepts one report from an agent.
func ReportHandler(
	w http.ResponseWriter,
	r *http.Request,
	reportService *service.ReportService,
	logger *zap.SugaredLogger,
	cfg *config.SinkConfig,
	auditLogger audit.AuditLogger,
) {
	body, err := ReadRequestBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := VerifyRequestHash(body, r.Header.Get("HashSHA256"), cfg.Key); err != nil {
		logger.Warnw("rejecting report with bad signature", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	gzipped := strings.Contains(r.Header.Get("Content-Encoding"), "gzip")
	payload, err := report.DecodeLimited(body, gzipped, maxDecodedReportBytes)
	if err != nil {
		http.Error(w, "Invalid report: "+err.Error(), http.StatusBadRequest)
		return
	}

	stored, created, err := reportService.Ingest(r.Context(), payload)
	if err != nil {
		if errors.Is(err, internalerrors.ErrInvalidReport) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Errorw("failed to store report", "report_id", payload.ReportID, "error", err)
		http.Error(w, "failed to store report", http.StatusServiceUnavailable)
		return
	}
	if created && auditLogger != nil {
		auditLogger.Log(stored, clientIP(r))
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"report_id": stored.ReportID})
}

// ListReportsHandler returns recent reports, newest first.
func ListReportsHandler(w http.ResponseWriter, r *http.Request, reportService *service.ReportService, logger *zap.SugaredLogger) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = value
	}

	reports, err := reportService.ListReports(r.Context(), limit)
	if err != nil {
		logger.Errorw("failed to list reports", "error", err)
		http.Error(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// GetReportHandler returns one report by id.
func GetReportHandler(w http.ResponseWriter, r *http.Request, reportService *service.ReportService) {
	stored, err := reportService.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, internalerrors.ErrReportNotFound) {
			http.Error(w, "Report not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// PingHandler checks the storage backend.
func PingHandler(w http.ResponseWriter, r *http.Request, reportService *service.ReportService, logger *zap.SugaredLogger) {
	if err := reportService.Ping(r.Context()); err != nil {
		logger.Errorw("storage ping failed", "error", err)
		http.Error(w, "Failed to connect to storage: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
