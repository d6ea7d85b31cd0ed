package schema

import "fmt"

// ValidationIssue is a single problem found in an input or output record.
// Line is the 1-based JSONL line number, or 0 when the record did not come from a file.
type ValidationIssue struct {
	Line    int    `json:"line,omitempty"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	loc := i.Path
	if loc == "" {
		loc = "/"
	}
	if i.Line > 0 {
		return fmt.Sprintf("line %d %s: %s", i.Line, loc, i.Message)
	}
	return fmt.Sprintf("%s: %s", loc, i.Message)
}

// ValidationResult aggregates issues for one record.
type ValidationResult struct {
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Valid returns true if no issues were recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Add appends an issue.
func (r *ValidationResult) Add(path, message string) {
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Message: message})
}

// AtLine stamps every issue with the given line number.
func (r *ValidationResult) AtLine(line int) *ValidationResult {
	for i := range r.Issues {
		r.Issues[i].Line = line
	}
	return r
}

// ToError converts the result to a CopilotError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Issues[0].String()
	if len(r.Issues) > 1 {
		msg = fmt.Sprintf("validation failed with %d issues: %s", len(r.Issues), msg)
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"issue_count": len(r.Issues),
			"issues":      r.Issues,
		})
}
