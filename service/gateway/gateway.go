// Package gateway is the uniform call surface over the external generative models:
// structured text, image synthesis and video synthesis.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Image is raw image data plus its mime type.
type Image struct {
	MimeType string
	Data     []byte
}

// Video is a rendered clip. Data may be empty when the provider only returned a URI.
type Video struct {
	MimeType string
	Data     []byte
	URI      string
}

type StructuredRequest struct {
	// Name labels the call in logs ("concept", "shot_plan", ...). It is not sent to the model.
	Name   string
	Prompt string
	Schema *Schema
	Images []Image
}

type ImageRequest struct {
	Label       string
	Prompt      string
	References  []Image // order matters: the prompt refers to references by position
	AspectRatio string
}

type VideoRequest struct {
	Label           string
	Prompt          string
	References      []Image
	AspectRatio     string
	DurationSeconds int
	Resolution      string
	GenerateAudio   bool
}

// Gateway is implemented by GeminiGateway and by test fakes.
type Gateway interface {
	CompleteStructured(ctx context.Context, req StructuredRequest) StructuredResult
	// GenerateImage returns (nil, nil) when the response carried no image.
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
	GenerateVideo(ctx context.Context, req VideoRequest) (*Video, error)
}

// ResultKind tags a StructuredResult.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultSchemaMismatch
	ResultProviderError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultSchemaMismatch:
		return "schema_mismatch"
	case ResultProviderError:
		return "provider_error"
	}
	return "unknown"
}

// StructuredResult is Ok(Value) | SchemaMismatch(Mismatch) | ProviderError(Report).
type StructuredResult struct {
	Kind     ResultKind
	Value    json.RawMessage
	Mismatch error
	Report   *Report
}

func OK(v json.RawMessage) StructuredResult { return StructuredResult{Kind: ResultOK, Value: v} }

func Mismatch(raw json.RawMessage, err error) StructuredResult {
	return StructuredResult{Kind: ResultSchemaMismatch, Value: raw, Mismatch: err}
}

func Failed(err error) StructuredResult {
	r := Normalize(err)
	return StructuredResult{Kind: ResultProviderError, Report: &r}
}

// ErrSchemaMismatch is matched by the error a mismatched result returns from Err.
var ErrSchemaMismatch = errors.New("structured output does not match schema")

// Err returns nil for ResultOK and a descriptive error otherwise.
func (r StructuredResult) Err() error {
	switch r.Kind {
	case ResultOK:
		return nil
	case ResultSchemaMismatch:
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, r.Mismatch)
	default:
		if r.Report != nil {
			return r.Report
		}
		return errors.New("provider error")
	}
}

// Decode unmarshals an OK result into v.
func (r StructuredResult) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}

// Validated checks raw against schema and builds the matching result.
func Validated(raw json.RawMessage, schema *Schema) StructuredResult {
	if schema != nil {
		if err := schema.Validate(raw); err != nil {
			return Mismatch(raw, err)
		}
	}
	return OK(raw)
}
