package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/grid"
	"github.com/hackgods/clinic-agenda-sync/internal/patient"
	"github.com/hackgods/clinic-agenda-sync/internal/scheduling"
)

// PatientSelector names the patient of a request. PatientID is looked up in
// the directory; PatientName alone is matched against agenda names.
type PatientSelector struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
}

type CreateAppointmentRequest struct {
	PatientSelector
	Date   string             `json:"date" validate:"required"`
	Time   calendar.TimeOfDay `json:"time" validate:"required"`
	Agenda int                `json:"agenda" validate:"omitempty,oneof=1 2"`
	Notes  string             `json:"notes" validate:"max=500"`
}

type RescheduleAppointmentRequest struct {
	PatientSelector
	Date    string             `json:"date" validate:"required"`
	Time    calendar.TimeOfDay `json:"time" validate:"required"`
	NewDate string             `json:"new_date" validate:"required"`
	NewTime calendar.TimeOfDay `json:"new_time" validate:"required"`
	Agenda  int                `json:"agenda" validate:"omitempty,oneof=1 2"`
	Notes   string             `json:"notes" validate:"max=500"`
}

type CancelAppointmentRequest struct {
	PatientSelector
	Date string             `json:"date" validate:"required"`
	Time calendar.TimeOfDay `json:"time" validate:"required"`
}

type RegisterPatientRequest struct {
	ID         string `json:"id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

type SyncRequest struct {
	From  string `json:"from"`
	Weeks int    `json:"weeks" validate:"omitempty,min=1,max=12"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	Week         int       `json:"week"`
	Date         string    `json:"date"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	Agenda       int       `json:"agenda"`
	PatientID    string    `json:"patient_id,omitempty"`
	PatientName  string    `json:"patient_name"`
	Practitioner string    `json:"practitioner"`
	Room         string    `json:"room"`
	RemoteRef    string    `json:"remote_ref,omitempty"`
}

type OperationResponse struct {
	Op          string               `json:"op"`
	Appointment AppointmentResponse  `json:"appointment"`
	Previous    *AppointmentResponse `json:"previous,omitempty"`
	Trace       []string             `json:"trace"`
}

type SlotResponse struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Agenda  int    `json:"agenda"`
	HalfDay string `json:"half_day"`
	Free    bool   `json:"free"`
}

type AvailabilityResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type PatientsResponse struct {
	Patients []patient.Record `json:"patients"`
}

type RegisterPatientResponse struct {
	Patient  patient.Record `json:"patient"`
	Warnings []string       `json:"warnings,omitempty"`
}

type AppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type SyncResponse struct {
	From     string `json:"from"`
	Weeks    int    `json:"weeks"`
	Bookings int    `json:"bookings"`
}

type ErrorResponse struct {
	Error      string              `json:"error"`
	Details    string              `json:"details,omitempty"`
	Candidates []patient.Candidate `json:"candidates,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		Week:         a.Week,
		Date:         calendar.FormatDate(a.Date),
		Start:        a.Start.String(),
		End:          a.End.String(),
		Agenda:       int(a.Resource),
		PatientID:    a.Patient.ID,
		PatientName:  a.Patient.Name,
		Practitioner: a.Practitioner,
		Room:         a.Room,
		RemoteRef:    a.RemoteRef,
	}
}

func toOperationResponse(res scheduling.Result) OperationResponse {
	out := OperationResponse{
		Op:          string(res.Op),
		Appointment: toAppointmentResponse(res.Appointment),
		Trace:       make([]string, len(res.Trace)),
	}
	if res.Previous != nil {
		prev := toAppointmentResponse(*res.Previous)
		out.Previous = &prev
	}
	for i, s := range res.Trace {
		out.Trace[i] = string(s)
	}
	return out
}

func toSlotResponse(s grid.Slot) SlotResponse {
	return SlotResponse{
		Start:   s.Start.String(),
		End:     s.End.String(),
		Agenda:  int(s.Resource),
		HalfDay: string(s.HalfDay),
		Free:    s.Free,
	}
}
