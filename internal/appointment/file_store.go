package appointment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

// record is the on-disk form of an Appointment.
type record struct {
	ID           string `json:"id,omitempty"`
	Week         int    `json:"week"`
	Date         string `json:"date"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Patient      string `json:"patient"`
	PatientID    string `json:"patient_id,omitempty"`
	Agenda       string `json:"agenda,omitempty"`
	Practitioner string `json:"practitioner,omitempty"`
	Room         string `json:"room,omitempty"`
	RemoteRef    string `json:"remote_ref,omitempty"`
}

// FileStore keeps appointments in a JSON file. It is not safe for concurrent
// use; the scheduling engine is its only writer.
type FileStore struct {
	path    string
	matcher Matcher
	appts   []Appointment

	// stamp of the file last read or written, used to pick up rewrites by
	// the refresh worker
	modTime time.Time
	size    int64
}

// FileStoreOption customizes a FileStore.
type FileStoreOption func(*FileStore)

// WithMatcher replaces the patient matcher used by FindByPatient.
func WithMatcher(m Matcher) FileStoreOption {
	return func(s *FileStore) { s.matcher = m }
}

// OpenFileStore loads path. A missing file yields an empty store; an
// unreadable one fails with ErrCorrupt.
func OpenFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{path: path, matcher: NameTokenMatcher{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.appts = nil
		s.modTime, s.size = time.Time{}, 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat appointments: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read appointments: %w", err)
	}
	appts, err := decode(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	s.appts = appts
	s.modTime, s.size = info.ModTime(), info.Size()
	return nil
}

// sync reloads the file when another process has rewritten it.
func (s *FileStore) sync() error {
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if s.modTime.IsZero() {
			return nil
		}
		return s.load()
	case err != nil:
		return fmt.Errorf("stat appointments: %w", err)
	}
	if info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return nil
	}
	return s.load()
}

func decode(data []byte) ([]Appointment, error) {
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	out := make([]Appointment, 0, len(recs))
	for i, r := range recs {
		a, err := r.appointment()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r record) appointment() (Appointment, error) {
	date, err := calendar.ParseDate(r.Date)
	if err != nil {
		return Appointment{}, err
	}
	start, err := calendar.ParseTimeOfDay(r.Start)
	if err != nil {
		return Appointment{}, err
	}
	end, err := calendar.ParseTimeOfDay(r.End)
	if err != nil {
		return Appointment{}, err
	}
	res := calendar.Primary
	switch r.Agenda {
	case "", "1":
	case "2":
		res = calendar.Secondary
	default:
		return Appointment{}, fmt.Errorf("unknown agenda %q", r.Agenda)
	}
	var id uuid.UUID
	if r.ID != "" {
		if id, err = uuid.Parse(r.ID); err != nil {
			return Appointment{}, err
		}
	}
	return Appointment{
		ID:           id,
		Week:         r.Week,
		Date:         date,
		Start:        start,
		End:          end,
		Resource:     res,
		Patient:      PatientRef{ID: r.PatientID, Name: r.Patient},
		Practitioner: r.Practitioner,
		Room:         r.Room,
		RemoteRef:    r.RemoteRef,
	}, nil
}

func toRecord(a Appointment) record {
	r := record{
		Week:         a.Week,
		Date:         calendar.FormatDate(a.Date),
		Start:        a.Start.String(),
		End:          a.End.String(),
		Patient:      a.Patient.Name,
		PatientID:    a.Patient.ID,
		Agenda:       a.Resource.String(),
		Practitioner: a.Practitioner,
		Room:         a.Room,
		RemoteRef:    a.RemoteRef,
	}
	if a.ID != uuid.Nil {
		r.ID = a.ID.String()
	}
	return r
}

// persist writes next to a temporary file in the same directory and renames
// it over the store, then adopts next as the in-memory set.
func (s *FileStore) persist(next []Appointment) error {
	sort.SliceStable(next, func(i, j int) bool {
		if !next[i].Date.Equal(next[j].Date) {
			return next[i].Date.Before(next[j].Date)
		}
		if next[i].Start != next[j].Start {
			return next[i].Start < next[j].Start
		}
		return next[i].Resource < next[j].Resource
	})

	recs := make([]record, 0, len(next))
	for _, a := range next {
		recs = append(recs, toRecord(a))
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode appointments: %w", err)
	}

	if err := writeAtomic(s.path, data); err != nil {
		return err
	}

	s.appts = next
	if info, err := os.Stat(s.path); err == nil {
		s.modTime, s.size = info.ModTime(), info.Size()
	}
	return nil
}

// writeAtomic writes data to a temporary file in the same directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) snapshot() []Appointment {
	out := make([]Appointment, len(s.appts))
	copy(out, s.appts)
	return out
}

func (s *FileStore) All() ([]Appointment, error) {
	if err := s.sync(); err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

func (s *FileStore) FindByDate(date time.Time) ([]Appointment, error) {
	if err := s.sync(); err != nil {
		return nil, err
	}
	var out []Appointment
	for _, a := range s.appts {
		if a.SameDay(date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *FileStore) FindByPatient(ref PatientRef) ([]Appointment, error) {
	if err := s.sync(); err != nil {
		return nil, err
	}
	var out []Appointment
	for _, a := range s.appts {
		if s.matcher.Match(ref, a.Patient) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *FileStore) Insert(a Appointment) (Appointment, error) {
	if err := s.sync(); err != nil {
		return Appointment{}, err
	}
	if err := checkOverlap(s.appts, a); err != nil {
		return Appointment{}, err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	next := append(s.snapshot(), a)
	if err := s.persist(next); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// Update applies mutate to every appointment selected by match. Mutations
// that would create an overlap are rejected as a whole.
func (s *FileStore) Update(match Predicate, mutate func(*Appointment)) (int, error) {
	if err := s.sync(); err != nil {
		return 0, err
	}
	next := s.snapshot()
	var changed []int
	for i := range next {
		if match(next[i]) {
			mutate(&next[i])
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	for _, i := range changed {
		others := make([]Appointment, 0, len(next)-1)
		others = append(others, next[:i]...)
		others = append(others, next[i+1:]...)
		if err := checkOverlap(others, next[i]); err != nil {
			return 0, err
		}
	}
	if err := s.persist(next); err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (s *FileStore) Delete(match Predicate) (int, error) {
	if err := s.sync(); err != nil {
		return 0, err
	}
	next := make([]Appointment, 0, len(s.appts))
	for _, a := range s.appts {
		if !match(a) {
			next = append(next, a)
		}
	}
	removed := len(s.appts) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(next); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FileStore) Replace(list []Appointment) error {
	next := make([]Appointment, 0, len(list))
	for _, a := range list {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		next = append(next, a)
	}
	if err := s.persist(next); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := writeAtomic(s.rebuiltPath(), []byte(stamp+"\n")); err != nil {
		return fmt.Errorf("record rebuild: %w", err)
	}
	return nil
}

// LastRebuilt returns when Replace last rewrote the file, from any
// process. It is zero if the file was never rebuilt.
func (s *FileStore) LastRebuilt() (time.Time, error) {
	data, err := os.ReadFile(s.rebuiltPath())
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read rebuild stamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: rebuild stamp: %v", ErrCorrupt, err)
	}
	return t, nil
}

func (s *FileStore) rebuiltPath() string { return s.path + ".rebuilt" }

// PruneBefore drops appointments on days before cutoff.
func (s *FileStore) PruneBefore(cutoff time.Time) (int, error) {
	day := calendar.Day(cutoff)
	return s.Delete(func(a Appointment) bool {
		return calendar.Day(a.Date).Before(day)
	})
}

func checkOverlap(existing []Appointment, a Appointment) error {
	for _, other := range existing {
		if other.Resource == a.Resource && other.SameDay(a.Date) && other.Overlaps(a.Start, a.End) {
			return fmt.Errorf("%w: %s %s agenda %s", ErrOverlap,
				calendar.FormatDate(a.Date), a.Start, a.Resource)
		}
	}
	return nil
}
