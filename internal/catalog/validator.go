package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLength  = 1024
	maxAuthorLength = 512
	maxTextLength   = 1 << 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = fmt.Sprintf("%s: %s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

// ValidateDocument checks the id and field limits of a catalog record.
// Text fields may be empty; such a book is indexed as the zero vector.
func ValidateDocument(d Document) error {
	errs := make(map[string]string)

	if d.ID <= 0 {
		errs["id"] = fmt.Sprintf("id must be positive, got %d", d.ID)
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		errs["title"] = "title is required"
	} else if utf8.RuneCountInString(title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(d.Author) > maxAuthorLength {
		errs["author"] = fmt.Sprintf("author must be at most %d characters", maxAuthorLength)
	}
	total := 0
	for _, f := range d.TextFields {
		total += len(f)
	}
	if total > maxTextLength {
		errs["text_fields"] = fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
