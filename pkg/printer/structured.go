package printer

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.Errorf("unknown output format %q (text, json, yaml)", s)
	}
}

// StructuredPrinter writes events as JSON lines or YAML documents.
type StructuredPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

var _ reasoning.Sink = (*StructuredPrinter)(nil)

func NewStructuredPrinter(w io.Writer, format Format) (*StructuredPrinter, error) {
	if format != FormatJSON && format != FormatYAML {
		return nil, errors.Errorf("structured printer does not support %q", format)
	}
	return &StructuredPrinter{w: w, format: format}, nil
}

func (p *StructuredPrinter) PublishEvent(_ context.Context, e reasoning.Event) error {
	b, err := reasoning.MarshalEvent(e)
	if err != nil {
		return err
	}
	if p.format == FormatJSON {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, err = p.w.Write(append(b, '\n'))
		return err
	}
	// YAML goes through the generic form so field names match the JSON ones.
	var generic map[string]interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	return p.writeYAML(generic)
}

// PrintResult writes the run summary: status, steps and answer.
func (p *StructuredPrinter) PrintResult(res *reasoning.RunResult) error {
	if res == nil {
		return nil
	}
	return p.Print(resultSummary{RunResult: res, Answer: res.Answer()})
}

// Print writes any JSON-serializable value in the printer's format.
func (p *StructuredPrinter) Print(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.format == FormatJSON {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, err = p.w.Write(append(b, '\n'))
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	return p.writeYAML(generic)
}

type resultSummary struct {
	*reasoning.RunResult
	Answer string `json:"answer,omitempty"`
}

func (p *StructuredPrinter) writeYAML(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode yaml")
	}
	return enc.Close()
}
