// Package events decodes a newline-delimited JSON stream of test runner
// lifecycle events and drives a reporter with them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Event types understood on the stream.
const (
	TypeRunBegin  = "runBegin"
	TypeTestBegin = "testBegin"
	TypeTestEnd   = "testEnd"
	TypeRunEnd    = "runEnd"
)

// Envelope is one line of the stream.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// RunBegin is the payload of a runBegin event.
type RunBegin struct {
	TotalTests int `mapstructure:"totalTests"`
}

// TestBegin is the payload of a testBegin event.
type TestBegin struct {
	TestID string `mapstructure:"testId"`
	File   string `mapstructure:"file"`
	Title  string `mapstructure:"title"`
	Retry  int    `mapstructure:"retry"`
}

// TestEnd is the payload of a testEnd event. Attachments are either plain
// paths or objects carrying a "path" key.
type TestEnd struct {
	TestID      string `mapstructure:"testId"`
	File        string `mapstructure:"file"`
	Title       string `mapstructure:"title"`
	Status      string `mapstructure:"status"`
	Retry       int    `mapstructure:"retry"`
	ErrorStack  string `mapstructure:"errorStack"`
	Attachments []any  `mapstructure:"attachments"`
}

// RunEnd is the payload of a runEnd event.
type RunEnd struct {
	Status string `mapstructure:"status"`
}

// ParseEnvelope decodes a single stream line.
func ParseEnvelope(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parsing event: %w", err)
	}

	if env.Event == "" {
		return nil, errors.New("event type missing")
	}

	return &env, nil
}

// Decode converts the envelope payload into out.
func (e *Envelope) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(e.Data); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Event, err)
	}

	return nil
}

// AttachmentPaths flattens attachment entries into paths. Entries without
// a path, such as inline bodies, yield empty strings which the attachment
// normalizer drops.
func (e *TestEnd) AttachmentPaths() []string {
	paths := make([]string, 0, len(e.Attachments))

	for _, a := range e.Attachments {
		switch v := a.(type) {
		case string:
			paths = append(paths, v)
		case map[string]any:
			p, _ := v["path"].(string)
			paths = append(paths, p)
		}
	}

	return paths
}
