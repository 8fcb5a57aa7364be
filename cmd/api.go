package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/export"
	"github.com/sells-group/leadpipe/internal/ingest"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/pipeline"
	"github.com/sells-group/leadpipe/internal/scoring"
)

// server exposes the pipeline over HTTP.
type server struct {
	env            *appEnv
	uploadDir      string
	allowedOrigins []string
}

func newServer(env *appEnv, uploadDir string, allowedOrigins []string) *server {
	return &server{env: env, uploadDir: uploadDir, allowedOrigins: allowedOrigins}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/batch/upload", s.handleBatchUpload)
		r.Get("/batch", s.handleBatchList)
		r.Get("/batch/{batchID}", s.handleBatchGet)
		r.Post("/batch/{batchID}/cancel", s.handleBatchCancel)
		r.Get("/progress/{batchID}", s.handleProgress)

		r.Post("/pipeline/run", s.handlePipelineRun)
		r.Post("/crm/verify", s.handleCRMVerify)
		r.Post("/sync", s.handleSync)

		r.Get("/leads", s.handleLeadsList)
		r.Get("/leads/export", s.handleLeadsExport)
		r.Post("/leads/rescore", s.handleLeadsRescore)

		r.Get("/outreach/campaigns", s.handleCampaigns)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBatchUpload accepts a multipart CSV or XLSX file, imports the rows,
// and submits the parsed emails as a new batch job.
func (s *server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	workflow := model.WorkflowKind(r.FormValue("workflow"))
	if workflow == "" {
		workflow = model.WorkflowFullPipeline
	}
	if !workflow.Valid() {
		writeError(w, http.StatusBadRequest, "unknown workflow")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	// Keep the original upload for auditing; parse from the saved copy so
	// XLSX (which needs a seekable file) works the same as CSV.
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "save upload")
		return
	}
	saved := filepath.Join(s.uploadDir, uuid.NewString()+ext)
	dst, err := os.Create(saved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save upload")
		return
	}
	if _, err := dst.ReadFrom(file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "save upload")
		return
	}
	dst.Close()

	var (
		leads  []model.Lead
		report *ingest.Report
	)
	switch ext {
	case ".csv":
		f, err := os.Open(saved)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read upload")
			return
		}
		leads, report, err = ingest.ReadCSV(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	case ".xlsx":
		leads, report, err = ingest.ReadXLSX(saved)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	emails := make([]string, 0, len(leads))
	for _, l := range leads {
		emails = append(emails, l.Email)
	}

	jobID, err := s.env.Orchestrator.Submit(r.Context(), workflow, emails, model.SourceCSV)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": jobID,
		"workflow": workflow,
		"import":   report,
	})
}

func (s *server) handleBatchList(w http.ResponseWriter, r *http.Request) {
	filter := model.JobFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	jobs, err := s.env.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": jobs})
}

func (s *server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	jobID, ok := batchID(w, r)
	if !ok {
		return
	}
	snap, err := s.env.Orchestrator.Status(r.Context(), jobID)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleBatchCancel(w http.ResponseWriter, r *http.Request) {
	jobID, ok := batchID(w, r)
	if !ok {
		return
	}
	if err := s.env.Orchestrator.Cancel(jobID); err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": jobID, "status": "cancelling"})
}

// progressResponse is the poll contract: stable field names, percent always
// present, counters echoed so clients can render without a second call.
type progressResponse struct {
	BatchID      int64              `json:"batch_id"`
	Status       model.JobStatus    `json:"status"`
	Phase        model.Phase        `json:"phase"`
	Percent      int                `json:"percent"`
	Total        int                `json:"total"`
	Processed    int                `json:"processed"`
	ValidCount   int                `json:"valid_count"`
	InvalidCount int                `json:"invalid_count"`
	UnknownCount int                `json:"unknown_count"`
	CreatedCount int                `json:"created_count"`
	UpdatedCount int                `json:"updated_count"`
	FailedCount  int                `json:"failed_count"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Workflow     model.WorkflowKind `json:"workflow"`
}

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID, ok := batchID(w, r)
	if !ok {
		return
	}
	snap, err := s.env.Orchestrator.Status(r.Context(), jobID)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		BatchID:      snap.ID,
		Status:       snap.Status,
		Phase:        snap.Phase,
		Percent:      snap.Percent,
		Total:        snap.Total,
		Processed:    snap.Processed,
		ValidCount:   snap.ValidCount,
		InvalidCount: snap.InvalidCount,
		UnknownCount: snap.UnknownCount,
		CreatedCount: snap.CreatedCount,
		UpdatedCount: snap.UpdatedCount,
		FailedCount:  snap.FailedCount,
		ErrorMessage: snap.ErrorMessage,
		Workflow:     snap.Workflow,
	})
}

// handlePipelineRun submits a batch from an explicit email list.
func (s *server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Workflow model.WorkflowKind `json:"workflow"`
		Emails   []string           `json:"emails"`
		Source   model.LeadSource   `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Workflow == "" {
		req.Workflow = model.WorkflowFullPipeline
	}
	source := req.Source
	if source == "" {
		source = model.SourceCSV
	}

	jobID, err := s.env.Orchestrator.Submit(r.Context(), req.Workflow, req.Emails, source)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	if jobID == pipeline.NoJob {
		writeJSON(w, http.StatusOK, map[string]any{"batch_id": pipeline.NoJob, "submitted": 0})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"batch_id": jobID, "workflow": req.Workflow})
}

// handleCRMVerify walks the CRM contact list and submits every contact
// without a verification result as a verify-only batch.
func (s *server) handleCRMVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Limit <= 0 {
		req.Limit = 1000
	}

	emails, err := collectUnverifiedCRMEmails(r.Context(), s.env, req.Limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	jobID, err := s.env.Orchestrator.Submit(r.Context(), model.WorkflowVerifyOnly, emails, model.SourceCRM)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":  jobID,
		"submitted": len(emails),
	})
}

// syncRequest selects which targets a synchronous sync run pushes to.
type syncRequest struct {
	Targets    []string `json:"targets"`
	CampaignID string   `json:"campaign_id,omitempty"`
	Emails     []string `json:"emails,omitempty"`
	MinScore   *int     `json:"min_score,omitempty"`
}

// handleSync runs a sync pass synchronously against the requested targets
// and returns the per-target outcome report.
func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Targets) == 0 {
		req.Targets = []string{"hubspot"}
	}

	targets := make([]pipeline.Syncer, 0, len(req.Targets))
	for _, name := range req.Targets {
		switch name {
		case "hubspot":
			targets = append(targets, pipeline.NewHubSpotSyncer(s.env.HubSpot, s.env.HubSpotGate, s.env.Store))
		case "salesforce":
			if s.env.Salesforce == nil {
				writeError(w, http.StatusBadRequest, "salesforce target is not configured")
				return
			}
			targets = append(targets, pipeline.NewSalesforceSyncer(s.env.Salesforce, s.env.SalesforceGate))
		case "instantly":
			if req.CampaignID == "" {
				writeError(w, http.StatusBadRequest, "campaign_id is required for the instantly target")
				return
			}
			targets = append(targets, pipeline.NewInstantlySyncer(s.env.Instantly, s.env.InstantlyGate, s.env.Store, req.CampaignID))
		default:
			writeError(w, http.StatusBadRequest, "unknown sync target "+strconv.Quote(name))
			return
		}
	}

	emails := req.Emails
	if len(emails) == 0 {
		filter := model.LeadFilter{VerificationStatus: model.VerificationValid, ScoreMin: req.MinScore}
		leads, err := s.env.Store.ListLeads(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, l := range leads {
			emails = append(emails, l.Email)
		}
	}
	if len(emails) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"synced": 0})
		return
	}

	report, err := runSync(r.Context(), s.env, targets, emails)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleLeadsList(w http.ResponseWriter, r *http.Request) {
	filter := model.LeadFilter{
		Source:             model.LeadSource(r.URL.Query().Get("source")),
		VerificationStatus: model.VerificationStatus(r.URL.Query().Get("status")),
		Limit:              queryInt(r, "limit", 100),
		Offset:             queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("min_score"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.ScoreMin = &n
		}
	}
	if v := r.URL.Query().Get("max_score"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.ScoreMax = &n
		}
	}
	leads, err := s.env.Store.ListLeads(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

func (s *server) handleLeadsExport(w http.ResponseWriter, r *http.Request) {
	filter := model.LeadFilter{
		Source:             model.LeadSource(r.URL.Query().Get("source")),
		VerificationStatus: model.VerificationStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("min_score"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.ScoreMin = &n
		}
	}
	leads, err := s.env.Store.ListLeads(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename("leads", time.Now())+`"`)
	if err := export.WriteCSV(w, leads); err != nil {
		zap.L().Error("export leads", zap.Error(err))
	}
}

// handleLeadsRescore recomputes scores for every known lead against the
// current scoring weights.
func (s *server) handleLeadsRescore(w http.ResponseWriter, r *http.Request) {
	leads, err := s.env.Store.ListLeads(r.Context(), model.LeadFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rescored, failed := 0, 0
	for i := range leads {
		lead := &leads[i]
		score, breakdown := scoring.Score(lead, s.env.Scoring)
		if err := s.env.Store.UpdateLeadScore(r.Context(), lead.Email, score, breakdown); err != nil {
			zap.L().Warn("rescore: persist", zap.String("email", lead.Email), zap.Error(err))
			failed++
			continue
		}
		rescored++
	}
	writeJSON(w, http.StatusOK, map[string]any{"rescored": rescored, "failed": failed})
}

func (s *server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := adapter.DoVal(r.Context(), s.env.InstantlyGate, "list_campaigns",
		s.env.Instantly.ListCampaigns)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

func batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSubmitError(w http.ResponseWriter, err error) {
	if eris.Is(err, pipeline.ErrUnknownWorkflow) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeStatusError(w http.ResponseWriter, err error) {
	if eris.Is(err, pipeline.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
