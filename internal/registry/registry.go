package registry

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"cvt2bids/internal/services"
)

// Required column names.
const (
	ColumnParticipantID = "participant_id"
	ColumnHeaderID      = "dcm_header_id"
	ColumnFolderPath    = "folder_path"
)

var requiredColumns = []string{ColumnParticipantID, ColumnHeaderID, ColumnFolderPath}

var defaultIDColumns = []string{"osepa_id", "lab_id", "neurorad_id", ColumnHeaderID}

const defaultDigits = 5

type row struct {
	cells map[string]string
	ids   map[string][]string
}

// Registry is the in-memory participant table. Column order follows the
// file it was loaded from; columns added later are appended.
type Registry struct {
	columns   []string
	idColumns []string
	digits    int
	rows      []*row
	index     map[string]int
	last      int
}

// Option customizes a Registry.
type Option func(*Registry)

// WithIDColumns sets the multi-valued identifier columns searched by Resolve.
func WithIDColumns(columns []string) Option {
	return func(r *Registry) {
		if len(columns) == 0 {
			return
		}
		r.idColumns = slices.Clone(columns)
	}
}

// WithDigits sets the zero-padded width of the numeric participant suffix.
func WithDigits(digits int) Option {
	return func(r *Registry) {
		if digits > 0 {
			r.digits = digits
		}
	}
}

// New returns an empty registry holding only the required columns.
func New(opts ...Option) *Registry {
	r := newRegistry(opts)
	r.columns = slices.Clone(requiredColumns)
	return r
}

func newRegistry(opts []Option) *Registry {
	r := &Registry{
		idColumns: slices.Clone(defaultIDColumns),
		digits:    defaultDigits,
		index:     make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Columns returns the column names in output order.
func (r *Registry) Columns() []string {
	return slices.Clone(r.columns)
}

// Len reports the number of participants.
func (r *Registry) Len() int {
	return len(r.rows)
}

// Participants returns participant ids in table order.
func (r *Registry) Participants() []string {
	out := make([]string, 0, len(r.rows))
	for _, rw := range r.rows {
		out = append(out, rw.cells[ColumnParticipantID])
	}
	return out
}

// Records renders every row as strings aligned with Columns.
func (r *Registry) Records() [][]string {
	out := make([][]string, 0, len(r.rows))
	for _, rw := range r.rows {
		out = append(out, r.render(rw))
	}
	return out
}

func (r *Registry) render(rw *row) []string {
	record := make([]string, len(r.columns))
	for i, col := range r.columns {
		if r.isIDColumn(col) {
			record[i] = JoinIDList(rw.ids[col])
			continue
		}
		record[i] = rw.cells[col]
	}
	return record
}

func (r *Registry) isIDColumn(column string) bool {
	return slices.Contains(r.idColumns, column)
}

// Resolve maps a raw DICOM patient id to a participant id. Identifier
// columns are searched first, row by row; an exact participant_id match is
// the fallback.
func (r *Registry) Resolve(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, rw := range r.rows {
		for _, col := range r.idColumns {
			if slices.Contains(rw.ids[col], raw) {
				return rw.cells[ColumnParticipantID], true
			}
		}
	}
	if idx, ok := r.index[raw]; ok {
		return r.rows[idx].cells[ColumnParticipantID], true
	}
	return "", false
}

// Has reports whether participantID is present.
func (r *Registry) Has(participantID string) bool {
	_, ok := r.index[participantID]
	return ok
}

// MaxNumericID returns the largest numeric suffix among participant ids.
func (r *Registry) MaxNumericID() int {
	maxID := 0
	for _, rw := range r.rows {
		if n, ok := numericSuffix(rw.cells[ColumnParticipantID], r.digits); ok && n > maxID {
			maxID = n
		}
	}
	return maxID
}

func numericSuffix(participantID string, digits int) (int, bool) {
	_, label, ok := strings.Cut(participantID, "-")
	if !ok || label == "" {
		return 0, false
	}
	// Existing ids may be wider than the configured padding.
	window := max(digits, defaultDigits)
	if len(label) > window {
		label = label[len(label)-window:]
	}
	label = strings.TrimLeftFunc(label, func(c rune) bool { return c < '0' || c > '9' })
	n, err := strconv.Atoi(label)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Allocate returns the next unused participant id for the pathology prefix
// and advances the counter. The row itself is created by Add.
func (r *Registry) Allocate(pathology string) (string, error) {
	if !validLabel(pathology) {
		return "", services.Wrap(services.ErrValidation, "registry", "allocate",
			fmt.Sprintf("pathology %q must be alphanumeric", pathology), nil)
	}
	if current := r.MaxNumericID(); current > r.last {
		r.last = current
	}
	r.last++
	return fmt.Sprintf("sub-%s%0*d", pathology, r.digits, r.last), nil
}

func validLabel(value string) bool {
	for _, c := range value {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Label strips the "sub-" style prefix, yielding the part dcm2bids expects.
func Label(participantID string) string {
	if _, label, ok := strings.Cut(participantID, "-"); ok {
		return label
	}
	return participantID
}

// Add appends a participant row. Missing identifier columns are added so new
// rows carry every configured id column.
func (r *Registry) Add(participantID, headerID, folder string) error {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return services.Wrap(services.ErrValidation, "registry", "add", "participant id is empty", nil)
	}
	if r.Has(participantID) {
		return services.Wrap(services.ErrValidation, "registry", "add",
			fmt.Sprintf("participant %s already exists", participantID), nil)
	}
	rw := &row{
		cells: map[string]string{
			ColumnParticipantID: participantID,
			ColumnFolderPath:    folder,
		},
		ids: map[string][]string{},
	}
	if headerID = strings.TrimSpace(headerID); headerID != "" {
		rw.ids[ColumnHeaderID] = []string{headerID}
	}
	for _, col := range r.idColumns {
		r.ensureColumn(col)
	}
	r.appendRow(rw)
	if n, ok := numericSuffix(participantID, r.digits); ok && n > r.last {
		r.last = n
	}
	return nil
}

func (r *Registry) appendRow(rw *row) {
	r.index[rw.cells[ColumnParticipantID]] = len(r.rows)
	r.rows = append(r.rows, rw)
}

// AddHeaderID records headerID in the participant's dcm_header_id list and
// reports whether it was new.
func (r *Registry) AddHeaderID(participantID, headerID string) (bool, error) {
	rw, err := r.lookup(participantID)
	if err != nil {
		return false, err
	}
	headerID = strings.TrimSpace(headerID)
	if headerID == "" || slices.Contains(rw.ids[ColumnHeaderID], headerID) {
		return false, nil
	}
	rw.ids[ColumnHeaderID] = append(rw.ids[ColumnHeaderID], headerID)
	return true, nil
}

// Set writes value into column for the participant, adding the column when
// it is new.
func (r *Registry) Set(participantID, column, value string) error {
	rw, err := r.lookup(participantID)
	if err != nil {
		return err
	}
	column = strings.TrimSpace(column)
	if column == "" || column == ColumnParticipantID {
		return services.Wrap(services.ErrValidation, "registry", "set",
			fmt.Sprintf("column %q is not writable", column), nil)
	}
	r.ensureColumn(column)
	if r.isIDColumn(column) {
		rw.ids[column] = ParseIDList(value)
		return nil
	}
	rw.cells[column] = value
	return nil
}

// Get returns the rendered value of column for the participant.
func (r *Registry) Get(participantID, column string) (string, bool) {
	idx, ok := r.index[participantID]
	if !ok || !slices.Contains(r.columns, column) {
		return "", false
	}
	rw := r.rows[idx]
	if r.isIDColumn(column) {
		return JoinIDList(rw.ids[column]), true
	}
	return rw.cells[column], true
}

// HeaderIDs returns the raw DICOM ids recorded for the participant.
func (r *Registry) HeaderIDs(participantID string) []string {
	idx, ok := r.index[participantID]
	if !ok {
		return nil
	}
	return slices.Clone(r.rows[idx].ids[ColumnHeaderID])
}

func (r *Registry) ensureColumn(column string) {
	if !slices.Contains(r.columns, column) {
		r.columns = append(r.columns, column)
	}
}

func (r *Registry) lookup(participantID string) (*row, error) {
	idx, ok := r.index[participantID]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "registry", "lookup",
			fmt.Sprintf("participant %s", participantID), nil)
	}
	return r.rows[idx], nil
}

// ParseIDList splits an identifier cell into trimmed, non-empty values. Both
// comma-joined strings and bracketed list literals such as ['a', 'b'] are
// accepted. BIDS "n/a" placeholders yield an empty list.
func ParseIDList(cell string) []string {
	cell = strings.TrimSpace(cell)
	if strings.HasPrefix(cell, "[") && strings.HasSuffix(cell, "]") {
		cell = cell[1 : len(cell)-1]
	}
	if cell == "" || strings.EqualFold(cell, "n/a") || strings.EqualFold(cell, "nan") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(cell, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// JoinIDList renders an identifier list for storage.
func JoinIDList(ids []string) string {
	return strings.Join(ids, ",")
}
