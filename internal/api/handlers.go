/**
 * @description
 * HTTP handlers for the analytics-service.
 */
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/analytics-service/internal/app"
	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/render"
	"github.com/transfa/analytics-service/internal/store"
)

// Service is the part of app.Service the handlers use.
type Service interface {
	AnalyzeUpload(ctx context.Context, analystID string, r io.Reader, source string) (*domain.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]domain.ReportSummary, error)
	GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error)
	GetAssessment(ctx context.Context, msisdn string) (*domain.Assessment, error)
	AssessDueResets(ctx context.Context) (app.AssessmentRun, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service        Service
	maxUploadBytes int64
}

// NewHandler creates a new Handler. Upload bodies larger than maxUploadBytes are rejected.
func NewHandler(service Service, maxUploadBytes int64) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

type analysisResponse struct {
	domain.ReportSummary
	Flagged []domain.Assessment `json:"flagged"`
}

func (h *Handler) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	analystID, ok := AnalystFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	body, source, err := uploadBody(r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	report, err := h.service.AnalyzeUpload(r.Context(), analystID, body, source)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	flagged := make([]domain.Assessment, 0)
	for _, a := range report.Assessments {
		if a.Verdict.Flagged() {
			flagged = append(flagged, a)
		}
	}
	w.Header().Set("Location", "/analyses/"+report.ID.String())
	writeJSON(w, http.StatusCreated, analysisResponse{ReportSummary: report.Summary(), Flagged: flagged})
}

// uploadBody returns the extract from either a multipart "file" field or a raw body.
func uploadBody(r *http.Request) (io.Reader, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, strings.TrimSpace(r.URL.Query().Get("source")), nil
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", errBadMultipart
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", errMissingFile
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() == "file" {
			return part, part.FileName(), nil
		}
	}
}

var (
	errBadMultipart = errors.New("malformed multipart body")
	errMissingFile  = errors.New("multipart field \"file\" is required")
)

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	var rateErr *app.RateLimitError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many uploads; try again later")
	case errors.Is(err, app.ErrInvalidUpload), errors.Is(err, errBadMultipart), errors.Is(err, errMissingFile):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api msg=\"analysis failed\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "Could not analyse upload.")
	}
}

func (h *Handler) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	reports, err := h.service.ListReports(r.Context(), limit, offset)
	if err != nil {
		log.Printf("level=error component=api msg=\"list reports failed\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "Could not list analyses.")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request) (*domain.Report, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid analysis ID")
		return nil, false
	}

	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "Analysis not found.")
			return nil, false
		}
		log.Printf("level=error component=api msg=\"get report failed\" report_id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "Could not load analysis.")
		return nil, false
	}
	return report, true
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := render.JSON(&buf, report); err != nil {
		log.Printf("level=error component=api msg=\"render json failed\" report_id=%s err=%v", report.ID, err)
		writeError(w, http.StatusInternalServerError, "Could not render analysis.")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) handleGetAnalysisGraph(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := render.HTML(&buf, report, render.DefaultHTMLOptions()); err != nil {
		log.Printf("level=error component=api msg=\"render html failed\" report_id=%s err=%v", report.ID, err)
		writeError(w, http.StatusInternalServerError, "Could not render analysis.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.service.GetAssessment(r.Context(), chi.URLParam(r, "msisdn"))
	if err != nil {
		if errors.Is(err, store.ErrAssessmentNotFound) {
			writeError(w, http.StatusNotFound, "Assessment not found.")
			return
		}
		log.Printf("level=error component=api msg=\"get assessment failed\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "Could not load assessment.")
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *Handler) handleRunAssessments(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.AssessDueResets(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"assessment run failed\" err=%v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
