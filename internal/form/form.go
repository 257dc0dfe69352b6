// Package form compiles a task's output-field schema into a runtime
// completion form. Each field kind carries its own validator and codec from
// submitted values to the stored text encoding, so persistence code never
// branches on field types.
package form

import (
	"fmt"
	"strconv"
	"strings"

	"taskdesk/internal/domain"
)

// multiSeparator joins multi-choice selections in the stored encoding.
const multiSeparator = ", "

// Field is one runtime input of a compiled form.
type Field struct {
	ID       string
	Name     string
	Type     string
	Required bool
	Kind     Kind
	// Options and the number bounds describe the input for rendering;
	// the Kind enforces them.
	Options  []string
	MinValue *float64
	MaxValue *float64
	// Initial carries the prior submission for redisplay. File fields
	// expose stored-file metadata instead (ExistingFile).
	Initial      []string
	ExistingFile *FileInfo
}

// FileInfo describes an already-stored file for redisplay.
type FileInfo struct {
	OriginalFilename string
	Size             int64
}

// Kind validates raw submitted values and encodes them for storage.
type Kind interface {
	// Validate turns the submitted values into the stored text encoding.
	// Absent optional values yield ok=false with no error.
	Validate(values []string) (stored string, ok bool, err error)
	// Decode reconstructs submitted values from the stored encoding.
	Decode(stored string) []string
}

// IsFile reports whether the field takes an upload rather than text values.
func (f Field) IsFile() bool { return f.Type == domain.FieldFile }

type textKind struct{ required bool }

func (k textKind) Validate(values []string) (string, bool, error) {
	v := first(values)
	if strings.TrimSpace(v) == "" {
		if k.required {
			return "", false, fmt.Errorf("this field is required")
		}
		return "", false, nil
	}
	return v, true, nil
}

func (k textKind) Decode(stored string) []string { return []string{stored} }

type choiceKind struct {
	required bool
	multi    bool
	options  []string
}

func (k choiceKind) Validate(values []string) (string, bool, error) {
	var selected []string
	for _, v := range values {
		if v != "" {
			selected = append(selected, v)
		}
	}
	if len(selected) == 0 {
		if k.required {
			return "", false, fmt.Errorf("this field is required")
		}
		return "", false, nil
	}
	if !k.multi && len(selected) > 1 {
		return "", false, fmt.Errorf("select a single option")
	}
	for _, v := range selected {
		if !contains(k.options, v) {
			return "", false, fmt.Errorf("%q is not a valid choice", v)
		}
	}
	return strings.Join(selected, multiSeparator), true, nil
}

func (k choiceKind) Decode(stored string) []string {
	if stored == "" {
		return nil
	}
	if !k.multi {
		return []string{stored}
	}
	return strings.Split(stored, multiSeparator)
}

type numberKind struct {
	required bool
	min, max *float64
}

func (k numberKind) Validate(values []string) (string, bool, error) {
	v := strings.TrimSpace(first(values))
	if v == "" {
		if k.required {
			return "", false, fmt.Errorf("this field is required")
		}
		return "", false, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return "", false, fmt.Errorf("enter a number")
	}
	if k.min != nil && n < *k.min {
		return "", false, fmt.Errorf("value must be at least %g", *k.min)
	}
	if k.max != nil && n > *k.max {
		return "", false, fmt.Errorf("value must be at most %g", *k.max)
	}
	return strconv.FormatFloat(n, 'g', -1, 64), true, nil
}

func (k numberKind) Decode(stored string) []string { return []string{stored} }

// fileKind is a placeholder: upload validation happens against the file
// metadata, not text values.
type fileKind struct{}

func (fileKind) Validate([]string) (string, bool, error) { return "", false, nil }
func (fileKind) Decode(string) []string                  { return nil }

// ParseOptions splits a comma-separated option declaration, trimming each
// option and dropping empties.
func ParseOptions(raw string) []string {
	var opts []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			opts = append(opts, p)
		}
	}
	return opts
}

// Compile builds the runtime form for a field schema. Choice fields with no
// usable options contribute no input; unknown field types are skipped the
// same way rather than failing the whole form.
func Compile(fields []domain.OutputField) []Field {
	var out []Field
	for _, f := range fields {
		field := Field{
			ID:       f.ID,
			Name:     f.Name,
			Type:     f.FieldType,
			Required: f.Required,
		}
		switch f.FieldType {
		case domain.FieldText:
			field.Kind = textKind{required: f.Required}
		case domain.FieldRadio:
			opts := ParseOptions(f.Options)
			if len(opts) == 0 {
				continue
			}
			field.Kind = choiceKind{required: f.Required, options: opts}
			field.Options = opts
		case domain.FieldCheckbox:
			opts := ParseOptions(f.Options)
			if len(opts) == 0 {
				continue
			}
			field.Kind = choiceKind{required: f.Required, multi: true, options: opts}
			field.Options = opts
		case domain.FieldYesNo:
			opts := []string{"yes", "no"}
			field.Kind = choiceKind{required: f.Required, options: opts}
			field.Options = opts
		case domain.FieldNumber:
			field.Kind = numberKind{required: f.Required, min: f.MinValue, max: f.MaxValue}
			field.MinValue = f.MinValue
			field.MaxValue = f.MaxValue
		case domain.FieldFile:
			field.Kind = fileKind{}
		default:
			continue
		}
		out = append(out, field)
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
