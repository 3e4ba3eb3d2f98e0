package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/dispatch"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/response"
	"github.com/gyaneshwarpardhi/sentinel/internal/stream"
	"github.com/gyaneshwarpardhi/sentinel/internal/transaction"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	proc   *stream.Processor
	eng    *response.Engine
	dist   *dispatch.Distributor
	trail  *audit.Trail
	loader *config.Loader
	log    *zap.Logger
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(proc *stream.Processor, eng *response.Engine, dist *dispatch.Distributor,
	trail *audit.Trail, loader *config.Loader, log *zap.Logger) http.Handler {

	h := &Handler{proc: proc, eng: eng, dist: dist, trail: trail, loader: loader,
		log: log, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/transactions", h.submitTransaction)
	h.mux.HandleFunc("POST /v1/transactions/batch", h.submitBatch)
	h.mux.HandleFunc("POST /v1/batches/{id}/replay", h.replayBatch)

	h.mux.HandleFunc("POST /v1/events", h.submitEvent)

	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules", h.addRule)
	h.mux.HandleFunc("DELETE /v1/rules/{id}", h.removeRule)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)

	h.mux.HandleFunc("GET /v1/agents", h.listAgents)
	h.mux.HandleFunc("POST /v1/agents", h.registerAgent)
	h.mux.HandleFunc("DELETE /v1/agents/{id}", h.unregisterAgent)
	h.mux.HandleFunc("POST /v1/agents/{id}/status", h.updateAgentStatus)

	h.mux.HandleFunc("POST /v1/tasks", h.submitTask)
	h.mux.HandleFunc("POST /v1/tasks/complete", h.completeTask)
	h.mux.HandleFunc("PUT /v1/strategy", h.setStrategy)

	h.mux.HandleFunc("GET /v1/audit/verify", h.verifyAudit)
	h.mux.HandleFunc("GET /v1/audit/search", h.searchAudit)
	h.mux.HandleFunc("GET /v1/audit/report", h.complianceReport)
	h.mux.HandleFunc("GET /v1/audit/transactions/{id}", h.transactionTrail)
	h.mux.HandleFunc("POST /v1/audit/export", h.exportAudit)

	h.mux.HandleFunc("GET /v1/stats", h.stats)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h.loggingMiddleware(h.mux)
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// POST /v1/transactions: priority-classified async ingestion.
func (h *Handler) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx transaction.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if !h.proc.Submit(&tx) {
		writeError(w, http.StatusTooManyRequests, "queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":       true,
		"transaction_id": tx.ID,
	})
}

// POST /v1/transactions/batch: batch ingestion, staged for replay.
func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	var txs []*transaction.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(txs) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(txs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d transactions", maxBatchSize))
		return
	}
	batchID, accepted := h.proc.SubmitBatch(txs)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id": batchID,
		"accepted": accepted,
		"rejected": len(txs) - accepted,
	})
}

// POST /v1/batches/{id}/replay: re-submit a staged batch.
func (h *Handler) replayBatch(w http.ResponseWriter, r *http.Request) {
	accepted, err := h.proc.ReplayBatch(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": accepted})
}

// POST /v1/events: feed an external fraud signal to the response engine.
func (h *Handler) submitEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.FraudEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if ev.Type == "" {
		writeError(w, http.StatusBadRequest, "event type is required")
		return
	}
	if !ev.Severity.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", ev.Severity))
		return
	}
	if !h.eng.Submit(&ev) {
		writeError(w, http.StatusTooManyRequests, "event queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"event_id": ev.ID,
	})
}

// GET /v1/rules: list the active rule set.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": h.eng.Rules()})
}

// POST /v1/rules: install one rule.
func (h *Handler) addRule(w http.ResponseWriter, r *http.Request) {
	var def config.RuleDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	rule, err := response.RuleFromDef(def)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.eng.AddRule(rule); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// DELETE /v1/rules/{id}
func (h *Handler) removeRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.eng.RemoveRule(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown rule %q", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": id})
}

// POST /v1/rules/reload: re-read the config file and swap the rule set.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rules := make([]*response.Rule, 0, len(cfg.Rules))
	for _, def := range cfg.Rules {
		rule, err := response.RuleFromDef(def)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		rules = append(rules, rule)
	}
	if err := h.eng.SetRules(rules); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"rules_count": len(rules),
	})
}

// GET /v1/agents
func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": h.dist.AgentSnapshot()})
}

// POST /v1/agents
func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var a dispatch.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.dist.RegisterAgent(&a); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, dispatch.ErrAgentExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// DELETE /v1/agents/{id}
func (h *Handler) unregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.dist.UnregisterAgent(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": r.PathValue("id")})
}

// POST /v1/agents/{id}/status: heartbeat/load update.
func (h *Handler) updateAgentStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status dispatch.AgentStatus `json:"status"`
		Load   *int                 `json:"load,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.dist.UpdateStatus(r.PathValue("id"), body.Status, body.Load); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": r.PathValue("id")})
}

// POST /v1/tasks
func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var t dispatch.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if t.Type == "" {
		writeError(w, http.StatusBadRequest, "task type is required")
		return
	}
	if !h.dist.SubmitTask(&t) {
		writeError(w, http.StatusTooManyRequests, "task queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"task_id":  t.ID,
	})
}

// POST /v1/tasks/complete: agent callback finalizing an assignment.
func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssignmentID string                 `json:"assignment_id"`
		Success      bool                   `json:"success"`
		Result       map[string]interface{} `json:"result,omitempty"`
		Error        string                 `json:"error,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.dist.CompleteTask(body.AssignmentID, body.Success, body.Result, body.Error); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"completed": body.AssignmentID})
}

// PUT /v1/strategy: swap the routing strategy at runtime.
func (h *Handler) setStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.dist.SetStrategy(body.Strategy); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategy": body.Strategy})
}

// GET /v1/audit/verify: full integrity verification.
func (h *Handler) verifyAudit(w http.ResponseWriter, r *http.Request) {
	res, err := h.trail.VerifyIntegrity()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/audit/search: conjunctive filters via query parameters.
func (h *Handler) searchAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		TransactionID: q.Get("transaction_id"),
		UserID:        q.Get("user_id"),
		AgentID:       q.Get("agent_id"),
		EventType:     q.Get("event_type"),
		Severity:      q.Get("severity"),
		Decision:      q.Get("decision"),
	}
	if v := q.Get("min_confidence"); v != "" {
		minConf, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_confidence must be numeric")
			return
		}
		f.MinConfidence = &minConf
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		f.To = t
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_results must be an integer")
			return
		}
		f.MaxResults = n
	}
	entries, err := h.trail.Search(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// GET /v1/audit/report?start=...&end=...&type=...
func (h *Handler) complianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339")
		return
	}
	reportType := q.Get("type")
	if reportType == "" {
		reportType = "standard"
	}
	rep, err := h.trail.GenerateComplianceReport(start, end, reportType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /v1/audit/transactions/{id}: full per-transaction timeline.
func (h *Handler) transactionTrail(w http.ResponseWriter, r *http.Request) {
	tt, err := h.trail.GetTransactionTrail(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tt)
}

// POST /v1/audit/export: dump for regulatory hand-off.
func (h *Handler) exportAudit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path   string     `json:"path"`
		Format string     `json:"format"`
		From   *time.Time `json:"from,omitempty"`
		To     *time.Time `json:"to,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if body.Path == "" || body.Format == "" {
		writeError(w, http.StatusBadRequest, "path and format are required")
		return
	}
	var from, to time.Time
	if body.From != nil {
		from = *body.From
	}
	if body.To != nil {
		to = *body.To
	}
	if err := h.trail.Export(body.Path, body.Format, from, to); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exported": body.Path})
}

// GET /v1/stats: consolidated component metrics.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream":        h.proc.Metrics(),
		"dispatch":      h.dist.Metrics(),
		"rules":         len(h.eng.Rules()),
		"audit_entries": h.trail.Count(),
	})
}

// GET /healthz: liveness probe.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: readiness with current queue depth and pool size.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	stats := h.proc.Metrics()
	depth := 0
	for _, d := range stats.QueueDepths {
		depth += d
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ready",
		"queue_depth": depth,
		"workers":     stats.Workers,
	})
}
