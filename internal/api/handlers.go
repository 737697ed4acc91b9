package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/patient"
	"github.com/hackgods/clinic-agenda-sync/internal/scheduling"
)

var validate = validator.New()

type handlers struct {
	engine       *scheduling.Engine
	directory    *patient.Directory
	logger       *zap.Logger
	refreshWeeks int
	now          func() time.Time
}

func (h *handlers) findPatients(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "token query parameter is required")
		return
	}
	matches, err := h.directory.Lookup(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(matches) == 0 {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no patient with identifier or email %q", token))
		return
	}
	writeJSON(w, http.StatusOK, PatientsResponse{Patients: matches})
}

func (h *handlers) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req RegisterPatientRequest
	if !decode(w, r, &req) {
		return
	}
	rec := patient.Record{
		ID:         req.ID,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Email:      req.Email,
		Phone:      req.Phone,
	}
	warnings, err := h.directory.Register(r.Context(), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterPatientResponse{Patient: rec, Warnings: warnings})
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	date, err := calendar.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	slots, err := h.engine.Availability(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := AvailabilityResponse{Date: calendar.FormatDate(date), Slots: make([]SlotResponse, 0, len(slots))}
	for _, s := range slots {
		out.Slots = append(out.Slots, toSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, err := h.resolvePatient(r.Context(), PatientSelector{
		PatientID:   q.Get("patient_id"),
		PatientName: q.Get("patient_name"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appts, err := h.engine.PatientAppointments(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := AppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for _, a := range appts {
		out.Appointments = append(out.Appointments, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	ref, err := h.resolvePatient(r.Context(), req.PatientSelector)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.engine.Create(r.Context(), scheduling.CreateRequest{
		Patient:  ref,
		Date:     date,
		Time:     req.Time,
		Resource: calendar.Resource(req.Agenda),
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationResponse(res))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	newDate, err := calendar.ParseDate(req.NewDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	ref, err := h.resolvePatient(r.Context(), req.PatientSelector)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.engine.Reschedule(r.Context(), scheduling.RescheduleRequest{
		Patient:  ref,
		Date:     date,
		Time:     req.Time,
		NewDate:  newDate,
		NewTime:  req.NewTime,
		Resource: calendar.Resource(req.Agenda),
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationResponse(res))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := calendar.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	ref, err := h.resolvePatient(r.Context(), req.PatientSelector)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.engine.Cancel(r.Context(), scheduling.CancelRequest{Patient: ref, Date: date, Time: req.Time})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationResponse(res))
}

func (h *handlers) sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	from := h.now()
	if req.From != "" {
		d, err := calendar.ParseDate(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		from = d
	}
	weeks := req.Weeks
	if weeks == 0 {
		weeks = h.refreshWeeks
	}

	n, err := h.engine.Refresh(r.Context(), from, weeks)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{
		From:     calendar.FormatDate(calendar.WeekStart(from)),
		Weeks:    weeks,
		Bookings: n,
	})
}

// resolvePatient turns a selector into the reference the engine matches
// on. A directory identifier fills in the display name.
func (h *handlers) resolvePatient(ctx context.Context, sel PatientSelector) (appointment.PatientRef, error) {
	ref := appointment.PatientRef{
		ID:   strings.TrimSpace(sel.PatientID),
		Name: strings.TrimSpace(sel.PatientName),
	}
	if ref.ID == "" {
		if ref.Name == "" {
			return ref, fmt.Errorf("%w: patient_id or patient_name is required", scheduling.ErrInvalidInput)
		}
		return ref, nil
	}
	if h.directory == nil {
		return ref, nil
	}
	rec, err := h.directory.Find(ctx, ref.ID)
	if err != nil {
		return ref, err
	}
	ref.ID = rec.ID
	if ref.Name == "" {
		ref.Name = rec.FullName()
	}
	return ref, nil
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	logger := h.logger.With(
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("code", code),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Info("request rejected")
	}

	resp := ErrorResponse{Error: code, Details: err.Error()}
	var amb *patient.AmbiguousError
	if errors.As(err, &amb) {
		resp.Candidates = amb.Candidates()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the error taxonomy to an HTTP status and a stable code.
// Ambiguity is tested before absence because it also matches ErrNotFound.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidInput),
		errors.Is(err, patient.ErrInvalid),
		errors.Is(err, calendar.ErrInvalidTime):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, scheduling.ErrAmbiguous),
		errors.Is(err, patient.ErrAmbiguous):
		return http.StatusConflict, "ambiguous"
	case errors.Is(err, scheduling.ErrNotFound),
		errors.Is(err, patient.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, patient.ErrDuplicateID):
		return http.StatusConflict, "duplicate_patient"
	case errors.Is(err, scheduling.ErrHalted):
		return http.StatusServiceUnavailable, "halted"
	case errors.Is(err, scheduling.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, "remote_unavailable"
	case errors.Is(err, scheduling.ErrRemoteWriteFailed):
		return http.StatusBadGateway, "remote_write_failed"
	case errors.Is(err, scheduling.ErrLocalPersistenceCorrupt):
		return http.StatusInternalServerError, "local_persistence_corrupt"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decode reads a JSON body into dst and validates it, answering 400 on
// failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
