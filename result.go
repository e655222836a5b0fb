package searchauthz

import (
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// EVALUATION RESULTS
// ============================================================================

// ResultStatus is the verdict of a privilege evaluation step.
type ResultStatus int

const (
	// StatusOK grants the request in full.
	StatusOK ResultStatus = iota
	// StatusPartiallyOK grants a subset of the requested indices; the check
	// table names which. Drives the do-not-fail-on-forbidden reduction.
	StatusPartiallyOK
	// StatusInsufficient denies the request.
	StatusInsufficient
	// StatusEmpty denies because the reduced index set came out empty.
	StatusEmpty
	// StatusPass means the step has no opinion and the pipeline continues.
	StatusPass
	// StatusStop aborts the pipeline without granting.
	StatusStop
	// StatusPending means evaluation has not concluded yet.
	StatusPending
)

func (s ResultStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusPartiallyOK:
		return "PARTIALLY_OK"
	case StatusInsufficient:
		return "INSUFFICIENT"
	case StatusEmpty:
		return "EMPTY"
	case StatusPass:
		return "PASS"
	case StatusStop:
		return "STOP"
	case StatusPending:
		return "PENDING"
	default:
		return fmt.Sprintf("ResultStatus(%d)", int(s))
	}
}

// EvaluationError records an internal failure during evaluation (for example
// an unrenderable DLS template). It is carried inside the result; evaluation
// fails closed instead of propagating it.
type EvaluationError struct {
	Message string
	Cause   error
}

func (e *EvaluationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *EvaluationError) Unwrap() error { return e.Cause }

// PrivilegesEvaluationResult is the immutable value object produced by every
// evaluation step. PARTIALLY_OK always carries a check table with at least one
// fully available index; INSUFFICIENT and EMPTY never imply access.
type PrivilegesEvaluationResult struct {
	Status            ResultStatus
	Reason            string
	CheckTable        *CheckTable
	MissingPrivileges []string
	Errors            []*EvaluationError

	// DlsFls carries the document and field restrictions to apply to the
	// granted indices. Nil means unrestricted.
	DlsFls *EvaluatedDlsFlsConfig
}

func ResultOK() *PrivilegesEvaluationResult {
	return &PrivilegesEvaluationResult{Status: StatusOK}
}

func ResultPass() *PrivilegesEvaluationResult {
	return &PrivilegesEvaluationResult{Status: StatusPass}
}

func ResultPending() *PrivilegesEvaluationResult {
	return &PrivilegesEvaluationResult{Status: StatusPending}
}

func ResultInsufficient(reason string) *PrivilegesEvaluationResult {
	return &PrivilegesEvaluationResult{Status: StatusInsufficient, Reason: reason}
}

func ResultEmpty(reason string) *PrivilegesEvaluationResult {
	return &PrivilegesEvaluationResult{Status: StatusEmpty, Reason: reason}
}

// WithCheckTable attaches the per-index/per-action matrix for diagnostics and
// the DNFOF reducer.
func (r *PrivilegesEvaluationResult) WithCheckTable(t *CheckTable) *PrivilegesEvaluationResult {
	c := *r
	c.CheckTable = t
	return &c
}

// WithMissingPrivileges records the action names that were not satisfied.
func (r *PrivilegesEvaluationResult) WithMissingPrivileges(actions ...string) *PrivilegesEvaluationResult {
	c := *r
	c.MissingPrivileges = append(append([]string(nil), r.MissingPrivileges...), actions...)
	return &c
}

// WithDlsFls attaches the document and field restrictions computed for the
// granted indices.
func (r *PrivilegesEvaluationResult) WithDlsFls(cfg *EvaluatedDlsFlsConfig) *PrivilegesEvaluationResult {
	c := *r
	c.DlsFls = cfg
	return &c
}

// WithError attaches an evaluation error to the result.
func (r *PrivilegesEvaluationResult) WithError(err *EvaluationError) *PrivilegesEvaluationResult {
	c := *r
	c.Errors = append(append([]*EvaluationError(nil), r.Errors...), err)
	return &c
}

// IsOK reports a full grant.
func (r *PrivilegesEvaluationResult) IsOK() bool { return r.Status == StatusOK }

// AvailableIndices returns the indices for which every required action is
// satisfied. Nil when no check table is attached.
func (r *PrivilegesEvaluationResult) AvailableIndices() []string {
	if r.CheckTable == nil {
		return nil
	}
	return r.CheckTable.CompleteRows()
}

func (r *PrivilegesEvaluationResult) String() string {
	var b strings.Builder
	b.WriteString(r.Status.String())
	if r.Reason != "" {
		b.WriteString(" [")
		b.WriteString(r.Reason)
		b.WriteString("]")
	}
	if len(r.MissingPrivileges) > 0 {
		b.WriteString(" missing=")
		b.WriteString(strings.Join(r.MissingPrivileges, ","))
	}
	return b.String()
}

// ============================================================================
// CHECK TABLE
// ============================================================================

// CheckTable is a per-index/per-action boolean matrix. Rows are concrete index
// names, columns are required action identifiers. A row is complete when every
// action is satisfied for that index.
type CheckTable struct {
	rows    []string
	columns []string
	checked map[string]map[string]bool
}

func NewCheckTable(indices []string, actions []string) *CheckTable {
	t := &CheckTable{
		rows:    append([]string(nil), indices...),
		columns: append([]string(nil), actions...),
		checked: make(map[string]map[string]bool, len(indices)),
	}
	for _, idx := range indices {
		t.checked[idx] = make(map[string]bool, len(actions))
	}
	return t
}

// Check marks the (index, action) cell as satisfied. Unknown cells are
// ignored.
func (t *CheckTable) Check(index, action string) {
	if row, ok := t.checked[index]; ok {
		row[action] = true
	}
}

// Uncheck clears the (index, action) cell.
func (t *CheckTable) Uncheck(index, action string) {
	if row, ok := t.checked[index]; ok {
		row[action] = false
	}
}

// UncheckRow clears every cell of the given index.
func (t *CheckTable) UncheckRow(index string) {
	if row, ok := t.checked[index]; ok {
		for a := range row {
			row[a] = false
		}
	}
}

// IsChecked reports whether the (index, action) cell is satisfied.
func (t *CheckTable) IsChecked(index, action string) bool {
	return t.checked[index][action]
}

// IsComplete reports whether every cell of every row is satisfied.
func (t *CheckTable) IsComplete() bool {
	for _, idx := range t.rows {
		if !t.isRowComplete(idx) {
			return false
		}
	}
	return true
}

// IsBlank reports whether no row is complete.
func (t *CheckTable) IsBlank() bool {
	for _, idx := range t.rows {
		if t.isRowComplete(idx) {
			return false
		}
	}
	return true
}

func (t *CheckTable) isRowComplete(index string) bool {
	row := t.checked[index]
	for _, a := range t.columns {
		if !row[a] {
			return false
		}
	}
	return len(t.columns) > 0
}

// CompleteRows returns the sorted indices for which every action is satisfied.
func (t *CheckTable) CompleteRows() []string {
	out := make([]string, 0, len(t.rows))
	for _, idx := range t.rows {
		if t.isRowComplete(idx) {
			out = append(out, idx)
		}
	}
	sort.Strings(out)
	return out
}

// IncompleteRows returns the sorted indices with at least one unsatisfied
// action.
func (t *CheckTable) IncompleteRows() []string {
	out := make([]string, 0, len(t.rows))
	for _, idx := range t.rows {
		if !t.isRowComplete(idx) {
			out = append(out, idx)
		}
	}
	sort.Strings(out)
	return out
}

// Rows returns the index names of the table.
func (t *CheckTable) Rows() []string { return t.rows }

// Columns returns the action names of the table.
func (t *CheckTable) Columns() []string { return t.columns }

// String renders the matrix for diagnostic logging, one row per index.
func (t *CheckTable) String() string {
	var b strings.Builder
	for i, idx := range t.rows {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(idx)
		b.WriteString(":")
		for j, a := range t.columns {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(a)
			if t.checked[idx][a] {
				b.WriteString("=ok")
			} else {
				b.WriteString("=MISSING")
			}
		}
	}
	return b.String()
}

// ============================================================================
// VALIDATION ERRORS
// ============================================================================

// ValidationIssue is one malformed attribute found while parsing
// configuration documents.
type ValidationIssue struct {
	Attribute string
	Message   string
}

func (i ValidationIssue) String() string {
	if i.Attribute == "" {
		return i.Message
	}
	return i.Attribute + ": " + i.Message
}

// ValidationError aggregates every issue found in a configuration document.
// Parsing collects exhaustively rather than failing on the first problem so
// administrators see everything wrong at once.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Add(attribute, message string) {
	e.Issues = append(e.Issues, ValidationIssue{Attribute: attribute, Message: message})
}

func (e *ValidationError) Addf(attribute, format string, args ...any) {
	e.Add(attribute, fmt.Sprintf(format, args...))
}

// Merge folds the issues of another validation error in, prefixing each
// attribute path.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	for _, iss := range other.Issues {
		attr := iss.Attribute
		if prefix != "" {
			if attr != "" {
				attr = prefix + "." + attr
			} else {
				attr = prefix
			}
		}
		e.Issues = append(e.Issues, ValidationIssue{Attribute: attr, Message: iss.Message})
	}
}

func (e *ValidationError) HasIssues() bool { return len(e.Issues) > 0 }

// ErrOrNil returns the error itself when issues were collected, nil otherwise.
func (e *ValidationError) ErrOrNil() error {
	if e.HasIssues() {
		return e
	}
	return nil
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, iss.String())
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.Issues), strings.Join(parts, "; "))
}
