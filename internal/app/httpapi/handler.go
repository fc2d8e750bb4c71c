// Package httpapi exposes the platform's REST surface.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/veritrace/platform/internal/app"
	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/anomaly"
	"github.com/veritrace/platform/internal/app/domain/dataset"
	"github.com/veritrace/platform/internal/app/domain/ingest"
	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/domain/token"
	catalogsvc "github.com/veritrace/platform/internal/app/services/catalog"
	ingestionsvc "github.com/veritrace/platform/internal/app/services/ingestion"
	pipelinesvc "github.com/veritrace/platform/internal/app/services/pipeline"
	apperrors "github.com/veritrace/platform/internal/errors"
	"github.com/veritrace/platform/internal/httputil"
	"github.com/veritrace/platform/internal/logging"
	"github.com/veritrace/platform/internal/middleware"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	trail *auditTrail
}

// NewHandler returns the REST API router. Every request is recorded on
// the audit trail on the way out.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{
		app:   application,
		trail: newAuditTrail(0, openTrailSink(application.Cfg.Paths.LogsDir)),
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/pipeline/runs", h.createRun).Methods(http.MethodPost)
	api.HandleFunc("/pipeline/runs", h.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/pipeline/runs/{id}", h.getRun).Methods(http.MethodGet)

	api.HandleFunc("/ingest/describe", h.describeSource).Methods(http.MethodPost)
	api.HandleFunc("/quality/validate", h.validateSource).Methods(http.MethodPost)
	api.HandleFunc("/anomaly/detect", h.detectAnomalies).Methods(http.MethodPost)

	api.HandleFunc("/audit/records", h.listAuditRecords).Methods(http.MethodGet)
	api.HandleFunc("/audit/records/{txid}", h.getAuditRecord).Methods(http.MethodGet)
	api.HandleFunc("/audit/records/{txid}/verify", h.verifyAuditRecord).Methods(http.MethodGet)
	api.HandleFunc("/audit/verify", h.verifyChain).Methods(http.MethodGet)
	api.HandleFunc("/audit/trail", h.listTrail).Methods(http.MethodGet)

	api.HandleFunc("/version/commits", h.listCommits).Methods(http.MethodGet)
	api.HandleFunc("/version/commits/{id}", h.getCommit).Methods(http.MethodGet)
	api.HandleFunc("/version/branches", h.listBranches).Methods(http.MethodGet)

	api.HandleFunc("/datasets", h.listDatasets).Methods(http.MethodGet)
	api.HandleFunc("/datasets", h.registerDataset).Methods(http.MethodPost)
	api.HandleFunc("/datasets/search", h.searchDatasets).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{id}", h.getDataset).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{id}", h.updateDataset).Methods(http.MethodPatch)
	api.HandleFunc("/datasets/{id}", h.deleteDataset).Methods(http.MethodDelete)

	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/tokens", h.issueToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens", h.listTokens).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{id}", h.revokeToken).Methods(http.MethodDelete)

	return h.recordTrail(r)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st := h.app.Pipeline.Status(r.Context())
	code := http.StatusOK
	if st.Status != "operational" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Ready(r.Context()); err != nil {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "NOT_READY", "storage unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) createRun(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SourcePath  string `json:"source_path"`
		OutputPath  string `json:"output_path"`
		Branch      string `json:"branch"`
		Format      string `json:"format"`
		Delimiter   string `json:"delimiter"`
		Sheet       string `json:"sheet"`
		RecordsPath string `json:"records_path"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}

	run, err := h.app.Pipeline.Run(r.Context(), pipelinesvc.RunRequest{
		SourcePath:  payload.SourcePath,
		OutputPath:  payload.OutputPath,
		Branch:      payload.Branch,
		Trigger:     pipeline.TriggerAPI,
		Format:      ingest.Format(payload.Format),
		Delimiter:   payload.Delimiter,
		Sheet:       payload.Sheet,
		RecordsPath: payload.RecordsPath,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.app.Cache.Invalidate(r.Context(), run.OutputPath)
	writeJSON(w, http.StatusCreated, run)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := pipeline.Filter{
		Status: pipeline.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  listLimit(r),
	}
	runs, err := h.app.Pipeline.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Pipeline.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("pipeline run"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// sourcePayload selects one source file the way pipeline runs do.
type sourcePayload struct {
	Path        string `json:"path"`
	Format      string `json:"format"`
	Delimiter   string `json:"delimiter"`
	Sheet       string `json:"sheet"`
	RecordsPath string `json:"records_path"`
}

func (p sourcePayload) request() ingestionsvc.Request {
	return ingestionsvc.Request{
		Path:        p.Path,
		Format:      ingest.Format(p.Format),
		Delimiter:   p.Delimiter,
		Sheet:       p.Sheet,
		RecordsPath: p.RecordsPath,
	}
}

// cacheable reports whether the read is keyed purely by path. Reads
// with format options are never cached; variants would collide on the
// path key.
func (p sourcePayload) cacheable() bool {
	return p.Format == "" && p.Delimiter == "" && p.Sheet == "" && p.RecordsPath == ""
}

func (h *handler) describeSource(w http.ResponseWriter, r *http.Request) {
	var payload sourcePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}
	path := strings.TrimSpace(payload.Path)

	if payload.cacheable() {
		if info, ok := h.app.Cache.GetSourceInfo(r.Context(), path); ok {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}

	info, err := h.app.Ingestion.Describe(r.Context(), payload.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payload.cacheable() {
		h.app.Cache.SetSourceInfo(r.Context(), path, info)
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) validateSource(w http.ResponseWriter, r *http.Request) {
	var payload sourcePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}
	path := strings.TrimSpace(payload.Path)

	if payload.cacheable() {
		if rep, ok := h.app.Cache.GetReport(r.Context(), path); ok {
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}

	fr, _, err := h.app.Ingestion.Ingest(r.Context(), payload.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.app.Quality.Validate(r.Context(), fr, path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payload.cacheable() {
		h.app.Cache.SetReport(r.Context(), path, rep)
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) detectAnomalies(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		sourcePayload
		Method string `json:"method"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}

	fr, _, err := h.app.Ingestion.Ingest(r.Context(), payload.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.app.Anomaly.Detect(r.Context(), fr, anomaly.Method(strings.ToLower(strings.TrimSpace(payload.Method))))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listAuditRecords(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, apperrors.InvalidFormat("since", "must be an RFC3339 timestamp"))
			return
		}
		since = parsed
	}

	recs, err := h.app.Ledger.Records(r.Context(), r.URL.Query().Get("operation"), listLimit(r), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) getAuditRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Ledger.Transaction(r.Context(), mux.Vars(r)["txid"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("audit record"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) verifyAuditRecord(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.Ledger.Verify(r.Context(), mux.Vars(r)["txid"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("audit record"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	// A zero limit verifies the whole ledger back to genesis.
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, apperrors.InvalidFormat("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}

	result, err := h.app.Ledger.VerifyChain(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) listTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.trail.listLimit(limit))
}

func (h *handler) listCommits(w http.ResponseWriter, r *http.Request) {
	commits, err := h.app.Versioning.Log(r.Context(), r.URL.Query().Get("branch"), listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (h *handler) getCommit(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Versioning.GetCommit(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("commit"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) listBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.app.Versioning.Branches(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

// datasetPayload mirrors the catalog register request.
type datasetPayload struct {
	Path          string         `json:"path"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Tags          []string       `json:"tags"`
	Source        string         `json:"source"`
	RowCount      int            `json:"row_count"`
	ColumnCount   int            `json:"column_count"`
	QualityPassed *bool          `json:"quality_passed"`
	LastCommitID  string         `json:"last_commit_id"`
	PipelineRunID string         `json:"pipeline_run_id"`
	Metadata      map[string]any `json:"metadata"`
}

func (p datasetPayload) request() catalogsvc.RegisterRequest {
	return catalogsvc.RegisterRequest{
		Path:          p.Path,
		Name:          p.Name,
		Description:   p.Description,
		Tags:          p.Tags,
		Source:        p.Source,
		RowCount:      p.RowCount,
		ColumnCount:   p.ColumnCount,
		QualityPassed: p.QualityPassed,
		LastCommitID:  p.LastCommitID,
		PipelineRunID: p.PipelineRunID,
		Metadata:      p.Metadata,
	}
}

func (h *handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	filter := dataset.Filter{
		Tag:   r.URL.Query().Get("tag"),
		Limit: listLimit(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("quality_passed")); raw != "" {
		passed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, apperrors.InvalidFormat("quality_passed", "must be true or false"))
			return
		}
		filter.QualityPassed = &passed
	}

	entries, err := h.app.Catalog.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) registerDataset(w http.ResponseWriter, r *http.Request) {
	var payload datasetPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}

	ds, err := h.app.Catalog.Register(r.Context(), payload.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (h *handler) searchDatasets(w http.ResponseWriter, r *http.Request) {
	found, err := h.app.Catalog.Search(r.Context(), r.URL.Query().Get("q"), listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *handler) getDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := h.app.Catalog.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("dataset"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *handler) updateDataset(w http.ResponseWriter, r *http.Request) {
	// The payload deliberately has no path field; entries cannot be moved.
	var payload struct {
		Name          string         `json:"name"`
		Description   string         `json:"description"`
		Tags          []string       `json:"tags"`
		Source        string         `json:"source"`
		QualityPassed *bool          `json:"quality_passed"`
		Metadata      map[string]any `json:"metadata"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}

	ds, err := h.app.Catalog.Update(r.Context(), mux.Vars(r)["id"], catalogsvc.RegisterRequest{
		Name:          payload.Name,
		Description:   payload.Description,
		Tags:          payload.Tags,
		Source:        payload.Source,
		QualityPassed: payload.QualityPassed,
		Metadata:      payload.Metadata,
	})
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("dataset"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *handler) deleteDataset(w http.ResponseWriter, r *http.Request) {
	err := h.app.Catalog.Delete(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("dataset"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}

	jwt, user, err := h.app.Auth.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		Username    string `json:"username"`
		Role        string `json:"role"`
	}{
		AccessToken: jwt,
		TokenType:   "bearer",
		ExpiresIn:   h.app.Cfg.Auth.TokenTTLMinutes * 60,
		Username:    user.Username,
		Role:        user.Role,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, apperrors.Unauthorized(""))
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, token.RoleAdmin) {
		return
	}
	var payload struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, apperrors.InvalidFormat("body", err.Error()))
		return
	}

	st, key, err := h.app.Auth.IssueToken(r.Context(), payload.Name, payload.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The plaintext key is returned exactly once; only its hash is stored.
	writeJSON(w, http.StatusCreated, struct {
		Token token.ServiceToken `json:"token"`
		Key   string             `json:"key"`
	}{Token: st, Key: key})
}

func (h *handler) listTokens(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, token.RoleAdmin) {
		return
	}
	tokens, err := h.app.Auth.Tokens(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, token.RoleAdmin) {
		return
	}
	err := h.app.Auth.RevokeToken(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, apperrors.NotFound("service token"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireRole enforces a role on an endpoint. With auth disabled every
// caller passes.
func (h *handler) requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	if !h.app.Cfg.Auth.Enabled {
		return true
	}
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, r, apperrors.Unauthorized(""))
		return false
	}
	if id.Role != role {
		writeError(w, r, apperrors.Forbidden(fmt.Sprintf("%s role required", role)))
		return false
	}
	return true
}

// recordTrail captures every API request on the audit trail. Health
// probes are not recorded.
func (h *handler) recordTrail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		user, role := "anonymous", ""
		if id, ok := middleware.IdentityFrom(r.Context()); ok {
			user, role = id.Name, id.Role
		}
		h.trail.add(trailEntry{
			Time:       time.Now().UTC(),
			User:       user,
			Role:       role,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			TraceID:    logging.GetTraceID(r.Context()),
			RemoteAddr: r.RemoteAddr,
		})
	})
}

func openTrailSink(logsDir string) trailSink {
	if strings.TrimSpace(logsDir) == "" {
		return nil
	}
	sink, err := newFileTrailSink(filepath.Join(logsDir, "api_trail.jsonl"))
	if err != nil {
		return nil
	}
	return sink
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// listLimit bounds list endpoints: default 50, capped at 500.
func listLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSONResponse(w, status, data)
}

// writeError maps an error to the API error envelope. Platform errors
// carry their stage kind; not-found conditions map to 404 and auth
// failures to 401.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr := apperrors.GetServiceError(err); svcErr != nil {
		httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}
	if pe := domain.AsError(err); pe != nil {
		status, code := http.StatusBadRequest, "INVALID_REQUEST"
		switch {
		case pe.NotFound:
			status, code = http.StatusNotFound, "NOT_FOUND"
		case pe.Kind == domain.KindAuth:
			status, code = http.StatusUnauthorized, "UNAUTHORIZED"
		}
		httputil.WriteErrorResponse(w, r, status, code, pe.Message, nil)
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, "NOT_FOUND", "record not found", nil)
		return
	}
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
}
