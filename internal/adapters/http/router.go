package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
	"voiceinsight/internal/observability/metrics"
)

const serviceName = "voiceinsight-api"

// multipart bookkeeping on top of the payload itself
const uploadBodyOverhead = 1 << 20

type RouterConfig struct {
	MaxUploadSize          int64
	AllowedAudioExtensions []string
	RateLimitRPS           float64
	RateLimitBurst         int
	MaxConcurrent          int
}

type Router struct {
	uploader ports.CallUploader
	queries  ports.CallQueryService
	exporter ports.InsightExporter
	metrics  *metrics.HTTPServerMetrics

	cfg         RouterConfig
	allowedExts map[string]struct{}
}

func NewRouter(
	uploader ports.CallUploader,
	queries ports.CallQueryService,
	exporter ports.InsightExporter,
	serverMetrics *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	exts := make(map[string]struct{}, len(cfg.AllowedAudioExtensions))
	for _, ext := range cfg.AllowedAudioExtensions {
		exts[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}
	return &Router{
		uploader:    uploader,
		queries:     queries,
		exporter:    exporter,
		metrics:     serverMetrics,
		cfg:         cfg,
		allowedExts: exts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/v1/calls", rt.calls)
	mux.HandleFunc("/v1/calls/", rt.callByID)
	mux.HandleFunc("/v1/insights", rt.listInsights)
	mux.HandleFunc("/v1/insights/call/", rt.insightsForCall)
	mux.HandleFunc("/v1/insights/export", rt.exportInsights)

	var limiter *rate.Limiter
	if rt.cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(rt.cfg.RateLimitRPS), rt.cfg.RateLimitBurst)
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(rt.cfg.MaxConcurrent, handler)
	handler = rateLimitMiddleware(limiter, handler)
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) calls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.uploadCall(w, r)
	case http.MethodGet:
		rt.listCalls(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) uploadCall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadSize+uploadBodyOverhead)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		rt.metrics.RecordUpload(serviceName, false, 0)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if _, ok := rt.allowedExts[ext]; !ok {
		rt.metrics.RecordUpload(serviceName, false, fileHeader.Size)
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{
			"error": fmt.Sprintf("unsupported audio format %q", ext),
		})
		return
	}
	if fileHeader.Size > rt.cfg.MaxUploadSize {
		rt.metrics.RecordUpload(serviceName, false, fileHeader.Size)
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("file exceeds the %d byte limit", rt.cfg.MaxUploadSize),
		})
		return
	}

	call, err := rt.uploader.Upload(r.Context(), fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		rt.metrics.RecordUpload(serviceName, false, fileHeader.Size)
		writeError(w, err)
		return
	}

	rt.metrics.RecordUpload(serviceName, true, fileHeader.Size)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"call_id":  call.ID,
		"filename": call.OriginalFilename,
		"status":   call.Status,
		"message":  "call accepted for processing",
	})
}

func (rt *Router) listCalls(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paginationParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var status *domain.CallStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseCallStatus(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		status = &parsed
	}

	page, err := rt.queries.ListCalls(r.Context(), skip, limit, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) callByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/calls/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "call id is required"})
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			rt.getCall(w, r, id)
		case http.MethodDelete:
			rt.deleteCall(w, r, id)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		}
	case "status":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		rt.getCallStatus(w, r, id)
	case "retry":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		rt.retryCall(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (rt *Router) getCall(w http.ResponseWriter, r *http.Request, id string) {
	call, err := rt.queries.GetCall(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (rt *Router) getCallStatus(w http.ResponseWriter, r *http.Request, id string) {
	snapshot, err := rt.queries.GetCallStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (rt *Router) deleteCall(w http.ResponseWriter, r *http.Request, id string) {
	if err := rt.queries.DeleteCall(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) retryCall(w http.ResponseWriter, r *http.Request, id string) {
	if err := rt.queries.RetryCall(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"call_id": id,
		"message": "call requeued for processing",
	})
}

func (rt *Router) listInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	insightType := strings.TrimSpace(r.URL.Query().Get("insight_type"))
	if insightType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'insight_type' is required"})
		return
	}
	skip, limit, err := paginationParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	insights, err := rt.queries.ListInsights(r.Context(), domain.InsightType(insightType), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (rt *Router) insightsForCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	callID := strings.TrimPrefix(r.URL.Path, "/v1/insights/call/")
	if callID == "" || strings.Contains(callID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "call id is required"})
		return
	}

	var typeFilter *domain.InsightType
	if raw := strings.TrimSpace(r.URL.Query().Get("insight_type")); raw != "" {
		t := domain.InsightType(raw)
		typeFilter = &t
	}

	insights, err := rt.queries.ListInsightsForCall(r.Context(), callID, typeFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (rt *Router) exportInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	insightType := strings.TrimSpace(r.URL.Query().Get("insight_type"))
	if insightType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'insight_type' is required"})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", insightType+"_insights.xlsx"))

	rows, err := rt.exporter.ExportInsights(r.Context(), domain.InsightType(insightType), w)
	if err != nil {
		// Workbooks are buffered until Write, so nothing has reached the
		// client yet and a JSON error body is still possible.
		w.Header().Del("Content-Disposition")
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	rt.metrics.RecordExportRows(serviceName, insightType, rows)
}

func paginationParams(r *http.Request) (skip, limit int, err error) {
	query := r.URL.Query()
	if raw := query.Get("skip"); raw != "" {
		skip, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("query parameter 'skip' must be an integer")
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("query parameter 'limit' must be an integer")
		}
	}
	return skip, limit, nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
