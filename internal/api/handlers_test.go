package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/analytics-service/internal/app"
	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/store"
)

const (
	testSecret      = "analyst-secret"
	testInternalKey = "internal-key"
)

type stubService struct {
	report      *domain.Report
	uploadErr   error
	analystID   string
	source      string
	body        string
	assessment  *domain.Assessment
	run         app.AssessmentRun
	listLimit   int
	listOffset  int
	assessCalls int
}

func (s *stubService) AnalyzeUpload(ctx context.Context, analystID string, r io.Reader, source string) (*domain.Report, error) {
	s.analystID = analystID
	s.source = source
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", app.ErrInvalidUpload, err)
	}
	s.body = string(data)
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return s.report, nil
}

func (s *stubService) ListReports(ctx context.Context, limit, offset int) ([]domain.ReportSummary, error) {
	s.listLimit, s.listOffset = limit, offset
	if s.report == nil {
		return []domain.ReportSummary{}, nil
	}
	return []domain.ReportSummary{s.report.Summary()}, nil
}

func (s *stubService) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	if s.report == nil || s.report.ID != id {
		return nil, store.ErrReportNotFound
	}
	return s.report, nil
}

func (s *stubService) GetAssessment(ctx context.Context, msisdn string) (*domain.Assessment, error) {
	if s.assessment == nil || s.assessment.MSISDN != msisdn {
		return nil, store.ErrAssessmentNotFound
	}
	return s.assessment, nil
}

func (s *stubService) AssessDueResets(ctx context.Context) (app.AssessmentRun, error) {
	s.assessCalls++
	return s.run, nil
}

func sampleReport() *domain.Report {
	return &domain.Report{
		ID:          uuid.MustParse("0b8e4c8a-8f0c-4f59-9a3e-4f7f2f1f0a11"),
		Title:       "SIM Swaps & PIN Resets 21 August 2018",
		Source:      "extract.csv",
		GeneratedAt: time.Date(2018, time.August, 28, 9, 0, 0, 0, time.UTC),
		Assessments: []domain.Assessment{
			{MSISDN: "255700000001", Verdict: domain.VerdictLikelyFraud},
			{MSISDN: "255700000002", Verdict: domain.VerdictClear},
		},
		Graph: &domain.Graph{
			Nodes: []domain.Node{{ID: "255700000001", Kind: domain.NodeResetSubscriber}, {ID: "255799999999", Kind: domain.NodeCounterparty}},
			Edges: []domain.Edge{{Source: "255700000001", Target: "255799999999", Familiarity: domain.FamiliarityUnfamiliar, AfterCount: 1}},
		},
		Stats: domain.ReportStats{Transactions: 3, Flagged: 1},
	}
}

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(svc *stubService, maxUpload int64) http.Handler {
	return NewRouter(NewHandler(svc, maxUpload), testSecret, testInternalKey)
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authorized(t *testing.T, req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "analyst-1", time.Hour))
	return req
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(&stubService{}, 0)

	if rec := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
	if rec := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestAnalystAuth(t *testing.T) {
	h := newTestRouter(&stubService{}, 0)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "not bearer", header: "Basic abc"},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other-secret", "analyst-1", time.Hour)},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, "analyst-1", -time.Hour)},
		{name: "no subject", header: "Bearer " + signToken(t, testSecret, "", time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if rec := do(t, h, req); rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestCreateAnalysis_RawCSV(t *testing.T) {
	svc := &stubService{report: sampleReport()}
	h := newTestRouter(svc, 1<<20)

	req := authorized(t, httptest.NewRequest(http.MethodPost, "/analyses?source=august.csv", strings.NewReader("a;b\n1;2\n")))
	req.Header.Set("Content-Type", "text/csv")
	rec := do(t, h, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Location") != "/analyses/"+svc.report.ID.String() {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
	if svc.analystID != "analyst-1" || svc.source != "august.csv" || svc.body != "a;b\n1;2\n" {
		t.Fatalf("unexpected upload: analyst=%q source=%q body=%q", svc.analystID, svc.source, svc.body)
	}

	var resp struct {
		ID      uuid.UUID           `json:"id"`
		Title   string              `json:"title"`
		Flagged []domain.Assessment `json:"flagged"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != svc.report.ID || len(resp.Flagged) != 1 || resp.Flagged[0].MSISDN != "255700000001" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateAnalysis_Multipart(t *testing.T) {
	svc := &stubService{report: sampleReport()}
	h := newTestRouter(svc, 1<<20)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("file", "extract.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("x;y\n"))
	_ = mw.Close()

	req := authorized(t, httptest.NewRequest(http.MethodPost, "/analyses", &body))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, h, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.source != "extract.csv" || svc.body != "x;y\n" {
		t.Fatalf("unexpected upload: source=%q body=%q", svc.source, svc.body)
	}
}

func TestCreateAnalysis_MultipartWithoutFile(t *testing.T) {
	h := newTestRouter(&stubService{report: sampleReport()}, 1<<20)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "no file here")
	_ = mw.Close()

	req := authorized(t, httptest.NewRequest(http.MethodPost, "/analyses", &body))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rec := do(t, h, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAnalysis_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		maxUpload int64
		uploadErr error
		want      int
	}{
		{name: "too large", maxUpload: 4, want: http.StatusRequestEntityTooLarge},
		{name: "rate limited", maxUpload: 1 << 20, uploadErr: &app.RateLimitError{RetryAfterSeconds: 30}, want: http.StatusTooManyRequests},
		{name: "invalid upload", maxUpload: 1 << 20, uploadErr: fmt.Errorf("%w: missing required column", app.ErrInvalidUpload), want: http.StatusBadRequest},
		{name: "storage failure", maxUpload: 1 << 20, uploadErr: fmt.Errorf("save report: connection refused"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&stubService{report: sampleReport(), uploadErr: tt.uploadErr}, tt.maxUpload)
			req := authorized(t, httptest.NewRequest(http.MethodPost, "/analyses", strings.NewReader("a;b;c;d;e;f\n")))
			rec := do(t, h, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "30" {
				t.Fatalf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestListAnalyses(t *testing.T) {
	svc := &stubService{report: sampleReport()}
	h := newTestRouter(svc, 0)

	rec := do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, "/analyses?limit=5&offset=10", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.listLimit != 5 || svc.listOffset != 10 {
		t.Fatalf("expected paging to be forwarded, got %d/%d", svc.listLimit, svc.listOffset)
	}

	rec = do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, "/analyses?limit=-1", nil)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", rec.Code)
	}
}

func TestGetAnalysisAndGraph(t *testing.T) {
	svc := &stubService{report: sampleReport()}
	h := newTestRouter(svc, 0)
	path := "/analyses/" + svc.report.ID.String()

	rec := do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, path, nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected report response %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.Title != svc.report.Title || len(got.Assessments) != 2 || got.Graph == nil {
		t.Fatalf("unexpected report: %+v", got)
	}

	rec = do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, path+"/graph", nil)))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected graph response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), `stroke="firebrick"`) {
		t.Fatal("expected the unfamiliar edge to be drawn")
	}

	rec = do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, "/analyses/"+uuid.NewString(), nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown report, got %d", rec.Code)
	}
	rec = do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, "/analyses/not-a-uuid", nil)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed id, got %d", rec.Code)
	}
}

func TestGetAssessment(t *testing.T) {
	svc := &stubService{assessment: &domain.Assessment{MSISDN: "255700000001", Verdict: domain.VerdictReview}}
	h := newTestRouter(svc, 0)

	rec := do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, "/subscribers/255700000001/assessment", nil)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"verdict":"review"`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, authorized(t, httptest.NewRequest(http.MethodGet, "/subscribers/255700000009/assessment", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunAssessmentsRequiresInternalKey(t *testing.T) {
	svc := &stubService{run: app.AssessmentRun{Due: 3, Assessed: 3, Flagged: 1}}
	h := newTestRouter(svc, 0)

	if rec := do(t, h, httptest.NewRequest(http.MethodPost, "/internal/assessments/run", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/assessments/run", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var run app.AssessmentRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil || run.Flagged != 1 || svc.assessCalls != 1 {
		t.Fatalf("unexpected run response %+v, %v", run, err)
	}
}
