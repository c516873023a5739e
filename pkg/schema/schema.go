// Package schema validates mined commits and feature records against
// embedded JSON Schemas.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
)

// Schema names.
const (
	Commit    = "commit"
	Kamei     = "kamei"
	VCCFinder = "vccfinder"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	// ErrUnknownSchema is returned by New for unsupported names.
	ErrUnknownSchema = errors.New("unknown schema")
	// ErrInvalidRecord wraps every schema violation.
	ErrInvalidRecord = errors.New("record does not match schema")
)

// Names lists the embedded schemas.
func Names() []string {
	return []string{Commit, Kamei, VCCFinder}
}

// Source returns the raw JSON Schema document for name.
func Source(name string) ([]byte, error) {
	if !slices.Contains(Names(), name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}

	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}

	return data, nil
}

// RecordError lists the violations of one record.
type RecordError struct {
	Line     int
	Problems []string
}

func (e *RecordError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("line %d: %s", e.Line, ErrInvalidRecord)
	}

	return fmt.Sprintf("line %d: %s", e.Line, e.Problems[0])
}

func (e *RecordError) Unwrap() error {
	return ErrInvalidRecord
}

// Validator checks records against one compiled schema.
type Validator struct {
	name   string
	schema *gojsonschema.Schema
}

// New compiles the embedded schema called name.
func New(name string) (*Validator, error) {
	data, err := Source(name)
	if err != nil {
		return nil, err
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	return &Validator{name: name, schema: compiled}, nil
}

// Name returns the schema name.
func (v *Validator) Name() string {
	return v.name
}

// ValidateRaw checks one JSON document. A violation is a *RecordError.
func (v *Validator) ValidateRaw(data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}

	return &RecordError{Problems: problems}
}

// Validate checks any value that marshals to JSON.
func (v *Validator) Validate(record any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(record))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}

	return &RecordError{Problems: problems}
}

// FileResult summarizes the validation of a JSONL file.
type FileResult struct {
	Records int
	Invalid int
	// Errors holds the first violations found, up to the requested limit.
	Errors []*RecordError
}

// ValidateFile checks every record of a JSONL (or JSONL.lz4) file and keeps
// at most maxErrors violations. maxErrors <= 0 keeps all of them. Only I/O
// failures are returned as errors.
func (v *Validator) ValidateFile(path string, maxErrors int) (FileResult, error) {
	var res FileResult

	r, err := jsonl.Open(path)
	if err != nil {
		return res, err
	}
	defer r.Close()

	for {
		data, nextErr := r.NextRaw()
		if errors.Is(nextErr, io.EOF) {
			return res, nil
		}

		if nextErr != nil {
			return res, nextErr
		}

		res.Records++

		validateErr := v.ValidateRaw(data)
		if validateErr == nil {
			continue
		}

		res.Invalid++

		var recErr *RecordError
		if !errors.As(validateErr, &recErr) {
			recErr = &RecordError{Problems: []string{validateErr.Error()}}
		}

		recErr.Line = r.Line()

		if maxErrors <= 0 || len(res.Errors) < maxErrors {
			res.Errors = append(res.Errors, recErr)
		}
	}
}
