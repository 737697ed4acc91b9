package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

// HTTPClient drives the clinic platform through its automation gateway.
// Retries are left to Guarded; resty's own retry is off.
type HTTPClient struct {
	http     *resty.Client
	username string
	password string
	logger   *zap.Logger
}

var _ Service = (*HTTPClient)(nil)

type HTTPConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPClient{
		http:     client,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}
}

type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type wireBooking struct {
	Ref          string `json:"ref"`
	Date         string `json:"date"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Agenda       string `json:"agenda,omitempty"`
	Patient      string `json:"patient"`
	Practitioner string `json:"practitioner,omitempty"`
	Room         string `json:"room,omitempty"`
}

type openFormRequest struct {
	Date   string `json:"date"`
	Anchor string `json:"anchor"`
	Agenda string `json:"agenda"`
}

type formResponse struct {
	ID string `json:"id"`
}

type fillRequest struct {
	Patient      string `json:"patient"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Agenda       string `json:"agenda"`
	Practitioner string `json:"practitioner"`
	Room         string `json:"room"`
	Notes        string `json:"notes,omitempty"`
}

type confirmResponse struct {
	Ref string `json:"ref"`
}

type wireError struct {
	Message string `json:"message"`
}

func (c *HTTPClient) Login(ctx context.Context) error {
	var out sessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sessionRequest{Username: c.username, Password: c.password}).
		SetResult(&out).
		SetError(&wireError{}).
		Post("/session")
	if err != nil {
		return transportError("login", err)
	}
	if code := resp.StatusCode(); code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrLoginFailed, message(resp))
	}
	if err := statusError("login", resp, ErrLoginFailed); err != nil {
		return err
	}
	if out.Token != "" {
		c.http.SetAuthToken(out.Token)
	}
	c.logger.Info("remote session opened", zap.String("user", c.username))
	return nil
}

func (c *HTTPClient) FindBookings(ctx context.Context, from, to time.Time) ([]Booking, error) {
	var out []wireBooking
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from": calendar.FormatDate(from),
			"to":   calendar.FormatDate(to),
		}).
		SetResult(&out).
		SetError(&wireError{}).
		Get("/bookings")
	if err != nil {
		return nil, transportError("find bookings", err)
	}
	if err := statusError("find bookings", resp, ErrRejected); err != nil {
		return nil, err
	}

	bookings := make([]Booking, 0, len(out))
	for i, w := range out {
		b, err := w.booking()
		if err != nil {
			return nil, fmt.Errorf("%w: booking %d: %v", ErrRejected, i, err)
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

func (c *HTTPClient) OpenBookingForm(ctx context.Context, date time.Time, anchor calendar.TimeOfDay, res calendar.Resource) (Form, error) {
	var out formResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(openFormRequest{Date: calendar.FormatDate(date), Anchor: anchor.String(), Agenda: res.String()}).
		SetResult(&out).
		SetError(&wireError{}).
		Post("/forms")
	if err != nil {
		return Form{}, transportError("open booking form", err)
	}
	if err := statusError("open booking form", resp, ErrNoAnchor); err != nil {
		return Form{}, err
	}
	return Form{ID: out.ID, Date: calendar.Day(date), Anchor: anchor, Resource: res}, nil
}

func (c *HTTPClient) OpenExistingBooking(ctx context.Context, ref string) (Form, error) {
	var out formResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ref", ref).
		SetResult(&out).
		SetError(&wireError{}).
		Post("/bookings/{ref}/form")
	if err != nil {
		return Form{}, transportError("open existing booking", err)
	}
	if err := statusError("open existing booking", resp, ErrUnknownBooking); err != nil {
		return Form{}, err
	}
	return Form{ID: out.ID, Ref: ref}, nil
}

func (c *HTTPClient) FillBooking(ctx context.Context, form Form, d BookingDetails) error {
	date := d.Date
	if date.IsZero() {
		date = form.Date
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", form.ID).
		SetBody(fillRequest{
			Patient:      d.PatientName,
			Date:         calendar.FormatDate(date),
			Time:         d.Time.String(),
			Agenda:       d.Resource.String(),
			Practitioner: d.Practitioner,
			Room:         d.Room,
			Notes:        d.Notes,
		}).
		SetError(&wireError{}).
		Put("/forms/{id}")
	if err != nil {
		return transportError("fill booking", err)
	}
	return statusError("fill booking", resp, ErrRejected)
}

func (c *HTTPClient) ConfirmBooking(ctx context.Context, form Form) (string, error) {
	var out confirmResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", form.ID).
		SetResult(&out).
		SetError(&wireError{}).
		Post("/forms/{id}/confirm")
	if err != nil {
		return "", transportError("confirm booking", err)
	}
	if err := statusError("confirm booking", resp, ErrRejected); err != nil {
		return "", err
	}
	ref := out.Ref
	if ref == "" {
		ref = form.Ref
	}
	return ref, nil
}

func (c *HTTPClient) CancelBooking(ctx context.Context, ref string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ref", ref).
		SetError(&wireError{}).
		Delete("/bookings/{ref}")
	if err != nil {
		return transportError("cancel booking", err)
	}
	return statusError("cancel booking", resp, ErrUnknownBooking)
}

func (w wireBooking) booking() (Booking, error) {
	date, err := calendar.ParseDate(w.Date)
	if err != nil {
		return Booking{}, err
	}
	start, err := calendar.ParseTimeOfDay(w.Start)
	if err != nil {
		return Booking{}, err
	}
	end, err := calendar.ParseTimeOfDay(w.End)
	if err != nil {
		return Booking{}, err
	}
	var res calendar.Resource
	switch w.Agenda {
	case "":
	case "1":
		res = calendar.Primary
	case "2":
		res = calendar.Secondary
	default:
		return Booking{}, fmt.Errorf("unknown agenda %q", w.Agenda)
	}
	return Booking{
		Ref:          w.Ref,
		Date:         date,
		Start:        start,
		End:          end,
		Resource:     res,
		PatientName:  w.Patient,
		Practitioner: w.Practitioner,
		Room:         w.Room,
	}, nil
}

// transportError classifies errors that produced no response. Deadlines
// and cancellation pass through untouched; anything else is transient.
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("remote %s: %w: %w", op, context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// statusError maps a gateway response to the package errors; notFound is
// what a 404 means for this call.
func statusError(op string, resp *resty.Response, notFound error) error {
	code := resp.StatusCode()
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", ErrSessionLost, op, message(resp))
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", notFound, op, message(resp))
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s: status %d: %s", ErrTransient, op, code, message(resp))
	default:
		return fmt.Errorf("%w: %s: status %d: %s", ErrRejected, op, code, message(resp))
	}
}

func message(resp *resty.Response) string {
	if e, ok := resp.Error().(*wireError); ok && e.Message != "" {
		return e.Message
	}
	return resp.Status()
}
