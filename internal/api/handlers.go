package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/custodian-dfir/custodian/internal/engine"
	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/mountmgr"
	"github.com/custodian-dfir/custodian/pkg/audit"
	"github.com/custodian-dfir/custodian/pkg/reporting"
)

func (r *Router) handleCreateCase(w http.ResponseWriter, req *http.Request) {
	var meta models.CaseMetadata
	if err := decodeJSON(req, &meta); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	c, err := r.engine.CreateCase(meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (r *Router) handleListCases(w http.ResponseWriter, req *http.Request) {
	summaries, err := r.engine.ListCases(req.URL.Query().Get("pattern"))
	if err != nil {
		writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []models.CaseSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleCaseSubroutes dispatches /api/cases/{number} and
// /api/cases/{number}/{action}.
func (r *Router) handleCaseSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/cases/")
	number, action, _ := strings.Cut(rest, "/")
	if number == "" {
		writeErrorMessage(w, http.StatusNotFound, "case number required")
		return
	}

	switch action {
	case "":
		if req.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		r.handleShowCase(w, req, number)
	case "open":
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleOpenCase(w, req, number)
	case "report":
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleReport(w, req, number)
	default:
		writeErrorMessage(w, http.StatusNotFound, "unknown case action: "+action)
	}
}

// handleShowCase returns a case without making it active. The active
// case is served from memory so in-flight digests show up; everything
// else is read from disk.
func (r *Router) handleShowCase(w http.ResponseWriter, req *http.Request, number string) {
	if active := r.engine.ActiveCase(); active != nil && active.CaseNumber == number {
		writeJSON(w, http.StatusOK, active)
		return
	}
	c, err := r.engine.Store().LoadCase(number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (r *Router) handleOpenCase(w http.ResponseWriter, req *http.Request, number string) {
	c, err := r.engine.OpenCase(number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (r *Router) handleState(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_case": r.engine.ActiveCase(),
	})
}

func (r *Router) handleSave(w http.ResponseWriter, req *http.Request) {
	if err := r.engine.Save(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type recordEvidenceRequest struct {
	SourcePath  string `json:"source_path"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func (r *Router) handleRecordEvidence(w http.ResponseWriter, req *http.Request) {
	var body recordEvidenceRequest
	if err := decodeJSON(req, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.SourcePath == "" {
		writeErrorMessage(w, http.StatusBadRequest, "source_path is required")
		return
	}
	item, err := r.engine.RecordEvidence(req.Context(), engine.EvidenceInput{
		SourcePath:  body.SourcePath,
		Type:        models.ParseEvidenceType(body.Type),
		Description: body.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type addDigestRequest struct {
	SourcePath string `json:"source_path"`
	Algorithm  string `json:"algorithm"`
	Value      string `json:"value"`
}

func (r *Router) handleAddDigest(w http.ResponseWriter, req *http.Request) {
	var body addDigestRequest
	if err := decodeJSON(req, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.SourcePath == "" || body.Algorithm == "" || body.Value == "" {
		writeErrorMessage(w, http.StatusBadRequest, "source_path, algorithm and value are required")
		return
	}
	if err := r.engine.AddDigest(body.SourcePath, body.Algorithm, body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type verifyEvidenceRequest struct {
	SourcePath string `json:"source_path"`
}

func (r *Router) handleVerifyEvidence(w http.ResponseWriter, req *http.Request) {
	var body verifyEvidenceRequest
	if err := decodeJSON(req, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.SourcePath == "" {
		writeErrorMessage(w, http.StatusBadRequest, "source_path is required")
		return
	}
	result, err := r.engine.VerifyEvidence(req.Context(), body.SourcePath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source_path": body.SourcePath,
		"result":      result,
	})
}

type mountRequest struct {
	ImagePath   string `json:"image_path"`
	Offset      string `json:"offset,omitempty"`
	FSTypeHint  string `json:"fs_type_hint,omitempty"`
	MountPoint  string `json:"mount_point"`
	WriteIntent bool   `json:"write_intent,omitempty"`
}

func (r *Router) handleMount(w http.ResponseWriter, req *http.Request) {
	var body mountRequest
	if err := decodeJSON(req, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.ImagePath == "" || body.MountPoint == "" {
		writeErrorMessage(w, http.StatusBadRequest, "image_path and mount_point are required")
		return
	}
	rec, err := r.engine.Mount(req.Context(), mountmgr.MountRequest{
		ImagePath:   body.ImagePath,
		Offset:      body.Offset,
		FSTypeHint:  body.FSTypeHint,
		MountPoint:  body.MountPoint,
		WriteIntent: body.WriteIntent,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type mountPointRequest struct {
	MountPoint string `json:"mount_point"`
}

func (r *Router) handleUnmount(w http.ResponseWriter, req *http.Request) {
	var body mountPointRequest
	if err := decodeJSON(req, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.MountPoint == "" {
		writeErrorMessage(w, http.StatusBadRequest, "mount_point is required")
		return
	}
	if err := r.engine.Unmount(req.Context(), body.MountPoint); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unmounted"})
}

func (r *Router) handleForgetMount(w http.ResponseWriter, req *http.Request) {
	var body mountPointRequest
	if err := decodeJSON(req, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.MountPoint == "" {
		writeErrorMessage(w, http.StatusBadRequest, "mount_point is required")
		return
	}
	if err := r.engine.RemoveMountRecord(body.MountPoint); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (r *Router) handlePartitions(w http.ResponseWriter, req *http.Request) {
	image := req.URL.Query().Get("image")
	if image == "" {
		writeErrorMessage(w, http.StatusBadRequest, "image query parameter is required")
		return
	}
	parts, err := r.engine.ListPartitions(image)
	if err != nil {
		writeError(w, err)
		return
	}
	if parts == nil {
		parts = []mountmgr.PartitionInfo{}
	}
	writeJSON(w, http.StatusOK, parts)
}

type reconcileRequest struct {
	AutoRemount *bool `json:"auto_remount,omitempty"`
}

func (r *Router) handleReconcile(w http.ResponseWriter, req *http.Request) {
	var body reconcileRequest
	if err := decodeJSON(req, &body); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	autoRemount := r.engine.AutoRemount()
	if body.AutoRemount != nil {
		autoRemount = *body.AutoRemount
	}
	report, err := r.engine.Reconcile(req.Context(), autoRemount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleAuditQuery serves the audit trail. Filters arrive as query
// parameters; start and end are RFC 3339 timestamps.
func (r *Router) handleAuditQuery(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	filter := audit.QueryFilter{
		Operation:  q.Get("operation"),
		CaseNumber: q.Get("case_number"),
		Outcome:    audit.Outcome(q.Get("outcome")),
		Limit:      100,
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid start time: "+err.Error())
			return
		}
		filter.StartTime = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid end time: "+err.Error())
			return
		}
		filter.EndTime = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErrorMessage(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	logger := audit.GetLogger()
	events, err := logger.Query(filter)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "audit query failed: "+err.Error())
		return
	}
	total, err := logger.Count(filter)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "audit count failed: "+err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

type reportRequest struct {
	Format string `json:"format,omitempty"`
}

// handleReport writes a case report into the case's exports directory
// and returns its path. The custody section comes from the audit trail;
// a query failure there degrades to a report without custody entries.
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request, number string) {
	var body reportRequest
	if err := decodeJSON(req, &body); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	format := reporting.FormatPDF
	if body.Format != "" {
		format = reporting.ReportFormat(strings.ToLower(body.Format))
	}
	if format != reporting.FormatPDF && format != reporting.FormatCSV {
		writeErrorMessage(w, http.StatusBadRequest, "format must be pdf or csv")
		return
	}

	var c *models.Case
	if active := r.engine.ActiveCase(); active != nil && active.CaseNumber == number {
		c = active
	} else {
		loaded, err := r.engine.Store().LoadCase(number)
		if err != nil {
			writeError(w, err)
			return
		}
		c = loaded
	}

	custody, err := audit.GetLogger().Query(audit.QueryFilter{CaseNumber: number, Limit: 1000})
	if err != nil {
		log.Warn().Err(err).Str("case_number", number).Msg("audit query for report failed")
		custody = nil
	}

	path, err := reporting.WriteCaseReport(c, custody, format)
	if err != nil {
		audit.Record("generate_report", number, number, audit.OutcomeFailure, err.Error())
		writeError(w, err)
		return
	}
	audit.Record("generate_report", number, number, audit.OutcomeSuccess, path)
	writeJSON(w, http.StatusOK, map[string]string{
		"report_path": path,
		"format":      string(format),
	})
}
