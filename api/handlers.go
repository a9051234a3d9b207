/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes attendance, tardiness, discipline and job operations via REST.
  Handles HTTP request/response and JSON serialization, and delegates to
  the engines. No business rule lives here.

ENDPOINTS:
  Attendance:
    POST   /api/attendance/check-in         Open a session
    POST   /api/attendance/check-out        Close the open session
    POST   /api/attendance/auto-checkout    Run the auto-checkout batch now
    GET    /api/attendance/sessions?date=   Sessions of a day

  Shifts:
    POST   /api/shifts                      Define a shift's weekday periods
    GET    /api/shifts/{id}                 Get a shift
    PUT    /api/employees/{id}/shift        Assign a shift

  Rules:
    GET    /api/rules/tardiness             List tardiness rules
    POST   /api/rules/tardiness             Upsert a rule, reload the table
    GET    /api/rules/disciplinary          List disciplinary rules
    POST   /api/rules/disciplinary          Upsert a rule

  Tardiness:
    GET    /api/employees/{id}/tardiness?year=&month=

  Discipline:
    GET    /api/discipline/records?state=&employee_id=
    POST   /api/discipline/records/{id}/approve
    POST   /api/discipline/records/{id}/reject
    POST   /api/discipline/evaluate/{employee}

  Jobs: see jobs.go

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, rule configuration errors
  - 404: Unknown record, shift or open session
  - 409: Conflict (session already open or closed, decided record, job running)
  - 500: Store failures
  A rejected request changes no state.

SECURITY NOTE:
  No authentication or authorization. Deploy behind a gateway that does.

SEE ALSO:
  - dto.go: Request/response data structures
  - jobs.go: Job control handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/discipline"
	"github.com/warp/attendance-engine/jobs"
	"github.com/warp/attendance-engine/rules"
	"github.com/warp/attendance-engine/store/sqlite"
	"github.com/warp/attendance-engine/tardiness"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options tunes the engines built by NewHandler.
type Options struct {
	UnpaidBreak       time.Duration
	MaxPlausibleHours decimal.Decimal // zero keeps the engine default
	Schedule          jobs.Schedule
	Logger            *log.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Clock        *calendar.Clock
	Attendance   *attendance.Service
	AutoCheckout *attendance.AutoCheckout
	Accumulator  *tardiness.Accumulator
	Incidents    *tardiness.IncidentCalculator
	Escalator    *discipline.Escalator
	Workflow     *discipline.Workflow
	Jobs         *jobs.Orchestrator

	logger *log.Logger
}

// NewHandler wires the engines and the job orchestrator on store. Jobs are
// registered but not started.
func NewHandler(store *sqlite.Store, clock *calendar.Clock, opts Options) (*Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{Store: store, Clock: clock, logger: logger}

	h.Attendance = attendance.NewService(store, clock, opts.UnpaidBreak)
	h.AutoCheckout = attendance.NewAutoCheckout(store, clock, logger)
	h.AutoCheckout.UnpaidBreak = opts.UnpaidBreak
	if !opts.MaxPlausibleHours.IsZero() {
		h.AutoCheckout.MaxPlausibleHours = opts.MaxPlausibleHours
	}

	h.Accumulator = tardiness.NewAccumulator(store, clock, logger)
	h.Escalator = discipline.NewEscalator(store, store, clock, logger)
	h.Escalator.Acts = h.Accumulator
	h.Accumulator.OnAccumulated = func(ctx context.Context, employeeID string) {
		if _, err := h.Escalator.Evaluate(ctx, employeeID); err != nil {
			logger.Printf("[Discipline] Evaluation after accumulation for %s: %v", employeeID, err)
		}
	}
	h.Incidents = &tardiness.IncidentCalculator{
		Sessions:    store,
		Accumulator: h.Accumulator,
		Clock:       clock,
		Logger:      logger,
	}
	h.Workflow = &discipline.Workflow{Store: store, Clock: clock, Logger: logger}

	bodies := &jobs.Bodies{
		AutoCheckout:  h.AutoCheckout,
		Incidents:     h.Incidents,
		Escalator:     h.Escalator,
		Accumulations: store,
		Clock:         clock,
		Logger:        logger,
	}
	orch, err := jobs.NewOrchestrator(clock, logger, bodies.Jobs(opts.Schedule)...)
	if err != nil {
		return nil, err
	}
	h.Jobs = orch
	return h, nil
}

// LoadRules builds the tardiness table from the stored rules. On error the
// previous table, if any, stays active.
func (h *Handler) LoadRules(ctx context.Context) error {
	return h.Accumulator.LoadRules(ctx, h.Store)
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// CheckIn opens a session.
// POST /api/attendance/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	req, at, method, ok := h.decodeCheck(w, r)
	if !ok {
		return
	}

	sess, err := h.Attendance.CheckIn(r.Context(), req.EmployeeID, at, method)
	if err != nil {
		writeDomainError(w, "Check-in failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(*sess, h.Clock.Location()))
}

// CheckOut closes the employee's open session.
// POST /api/attendance/check-out
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	req, at, method, ok := h.decodeCheck(w, r)
	if !ok {
		return
	}

	sess, err := h.Attendance.CheckOut(r.Context(), req.EmployeeID, at, method)
	if err != nil {
		writeDomainError(w, "Check-out failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*sess, h.Clock.Location()))
}

func (h *Handler) decodeCheck(w http.ResponseWriter, r *http.Request) (CheckRequest, time.Time, attendance.Method, bool) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, time.Time{}, "", false
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return req, time.Time{}, "", false
	}

	at := h.Clock.Now()
	if req.At != "" {
		t, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at, expected RFC3339", err)
			return req, time.Time{}, "", false
		}
		at = t
	}

	method := attendance.MethodManual
	if req.Method != "" {
		method = attendance.Method(req.Method)
	}
	return req, at, method, true
}

// RunAutoCheckout runs the auto-checkout batch for a day.
// POST /api/attendance/auto-checkout
func (h *Handler) RunAutoCheckout(w http.ResponseWriter, r *http.Request) {
	var req AutoCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var target *calendar.Day
	if req.Date != "" {
		day, err := calendar.ParseDay(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		target = &day
	}

	result, err := h.AutoCheckout.Run(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Auto-checkout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListSessions returns the sessions of a day, today by default.
// GET /api/attendance/sessions?date=YYYY-MM-DD
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	day := h.Clock.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := calendar.ParseDay(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		day = d
	}

	sessions, err := h.Store.FindSessionsByDay(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s, h.Clock.Location())
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SHIFT HANDLERS
// =============================================================================

// SaveShift upserts the weekday periods of a shift.
// POST /api/shifts
func (h *Handler) SaveShift(w http.ResponseWriter, r *http.Request) {
	var req rules.ShiftJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	periods, err := req.ShiftPeriods()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid shift", err)
		return
	}
	for _, p := range periods {
		if err := h.Store.SaveShiftPeriod(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save shift", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toShiftDTO(req.ID, periods))
}

// GetShift returns a shift.
// GET /api/shifts/{id}
func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	periods, err := h.Store.ListShiftPeriods(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get shift", err)
		return
	}
	if len(periods) == 0 {
		writeError(w, http.StatusNotFound, "Shift not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTO(id, periods))
}

// AssignShift links an employee to a shift.
// PUT /api/employees/{id}/shift
func (h *Handler) AssignShift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID := chi.URLParam(r, "id")

	var req AssignShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ShiftID == "" {
		writeError(w, http.StatusBadRequest, "shift_id is required", nil)
		return
	}

	periods, err := h.Store.ListShiftPeriods(ctx, req.ShiftID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get shift", err)
		return
	}
	if len(periods) == 0 {
		writeError(w, http.StatusNotFound, "Shift not found", nil)
		return
	}

	if err := h.Store.AssignShift(ctx, employeeID, req.ShiftID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to assign shift", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"employee_id": employeeID,
		"shift_id":    req.ShiftID,
	})
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListTardinessRules returns every tardiness rule.
// GET /api/rules/tardiness
func (h *Handler) ListTardinessRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListTardinessRules(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	if list == nil {
		list = []tardiness.Rule{}
	}
	writeJSON(w, http.StatusOK, list)
}

// SaveTardinessRule upserts a rule after checking that the resulting table
// is still valid, then reloads the active table.
// POST /api/rules/tardiness
func (h *Handler) SaveTardinessRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rules.TardinessRuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rule := req.Rule()

	existing, err := h.Store.ListTardinessRules(ctx, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	merged := []tardiness.Rule{rule}
	for _, old := range existing {
		if old.ID != rule.ID {
			merged = append(merged, old)
		}
	}
	if _, err := tardiness.NewRuleTable(merged); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tardiness rule", err)
		return
	}

	if err := h.Store.SaveTardinessRule(ctx, rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	if err := h.LoadRules(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Rule saved but table reload failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// ListDisciplinaryRules returns every disciplinary rule.
// GET /api/rules/disciplinary
func (h *Handler) ListDisciplinaryRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListDisciplinaryRules(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	if list == nil {
		list = []discipline.ActionRule{}
	}
	writeJSON(w, http.StatusOK, list)
}

// SaveDisciplinaryRule validates and upserts a rule.
// POST /api/rules/disciplinary
func (h *Handler) SaveDisciplinaryRule(w http.ResponseWriter, r *http.Request) {
	var req rules.DisciplinaryRuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rule := req.Rule()
	if err := discipline.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid disciplinary rule", err)
		return
	}

	if err := h.Store.SaveDisciplinaryRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// =============================================================================
// TARDINESS HANDLERS
// =============================================================================

// GetTardiness returns an employee's counters for a month, the current one
// by default.
// GET /api/employees/{id}/tardiness?year=&month=
func (h *Handler) GetTardiness(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	period := h.Clock.Today().MonthKey()

	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year < 1 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		period.Year = year
	}
	if v := q.Get("month"); v != "" {
		month, err := strconv.Atoi(v)
		if err != nil || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		period.Month = time.Month(month)
	}

	acc, err := h.Store.GetAccumulation(r.Context(), employeeID, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tardiness", err)
		return
	}
	if acc == nil {
		empty := tardiness.NewAccumulation(employeeID, period)
		acc = &empty
	}
	writeJSON(w, http.StatusOK, toAccumulationDTO(*acc))
}

// =============================================================================
// DISCIPLINE HANDLERS
// =============================================================================

// ListRecords returns disciplinary records.
// GET /api/discipline/records?state=&employee_id=
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := discipline.RecordFilter{
		EmployeeID: q.Get("employee_id"),
		State:      discipline.State(q.Get("state")),
	}
	switch filter.State {
	case "", discipline.StatePending, discipline.StateActive, discipline.StateCompleted, discipline.StateCancelled:
	default:
		writeError(w, http.StatusBadRequest, "Invalid state", nil)
		return
	}

	recs, err := h.Store.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(recs, h.Clock.Location()))
}

// ApproveRecord activates a pending record.
// POST /api/discipline/records/{id}/approve
func (h *Handler) ApproveRecord(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Workflow.Approve)
}

// RejectRecord cancels a pending record.
// POST /api/discipline/records/{id}/reject
func (h *Handler) RejectRecord(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Workflow.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id, actor, note string) (*discipline.Record, error)) {
	id := chi.URLParam(r, "id")

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	rec, err := decide(r.Context(), id, req.Actor, req.Note)
	if err != nil {
		writeDomainError(w, "Decision failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec, h.Clock.Location()))
}

// EvaluateEmployee runs the escalator for one employee now.
// POST /api/discipline/evaluate/{employee}
func (h *Handler) EvaluateEmployee(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employee")

	created, err := h.Escalator.Evaluate(r.Context(), employeeID)
	resp := EvaluateResponse{EmployeeID: employeeID, Created: toRecordDTOs(created, h.Clock.Location())}
	if err != nil {
		if !discipline.IsConfigError(err) {
			writeError(w, http.StatusInternalServerError, "Evaluation failed", err)
			return
		}
		resp.Errors = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to a status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrSessionOpen),
		errors.Is(err, attendance.ErrAlreadyClosed),
		errors.Is(err, discipline.ErrInvalidTransition),
		errors.Is(err, jobs.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNoOpenSession),
		errors.Is(err, discipline.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrShutdown):
		return http.StatusServiceUnavailable
	case attendance.IsClientError(err),
		discipline.IsClientError(err),
		tardiness.IsConfigError(err),
		jobs.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func strPtr(s string) *string {
	return &s
}

// Health reports store reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.Clock.Now().Format(time.RFC3339),
		"zone":   h.Clock.Location().String(),
	})
}
