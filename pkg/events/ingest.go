package events

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reportoor/pkg/record"
	"github.com/ethpandaops/reportoor/pkg/reporter"
)

const (
	// maxLineSize bounds a single event line; stack traces can be long.
	maxLineSize = 16 * 1024 * 1024

	// StatusInterrupted finalizes a run whose stream ended without runEnd.
	StatusInterrupted = string(record.StatusInterrupted)
)

// Ingester feeds a lifecycle event stream into a reporter.
type Ingester struct {
	log      logrus.FieldLogger
	reporter reporter.Reporter
}

// NewIngester creates an Ingester driving rep.
func NewIngester(log logrus.FieldLogger, rep reporter.Reporter) *Ingester {
	return &Ingester{
		log:      log.WithField("component", "ingest"),
		reporter: rep,
	}
}

// Run reads events from r until a runEnd event, EOF or ctx cancellation.
// Malformed lines are logged and skipped. When the stream ends without a
// runEnd event the run is finalized as interrupted.
func (in *Ingester) Run(ctx context.Context, r io.Reader) (*record.RunSummary, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		if ctx.Err() != nil {
			break
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		env, err := ParseEnvelope(line)
		if err != nil {
			in.log.WithError(err).WithField("line", lineNo).Warn("Skipping malformed event")

			continue
		}

		if env.Event == TypeRunEnd {
			var data RunEnd
			if err := env.Decode(&data); err != nil {
				in.log.WithError(err).WithField("line", lineNo).Warn("Malformed runEnd payload")
			}

			return in.finish(ctx, data.Status)
		}

		if err := in.dispatch(ctx, env); err != nil {
			in.log.WithError(err).WithField("line", lineNo).Warn("Skipping event")
		}
	}

	if err := scanner.Err(); err != nil {
		in.log.WithError(err).Warn("Event stream read failed")
	}

	in.log.Warn("Event stream ended without runEnd, finalizing as interrupted")

	return in.finish(ctx, StatusInterrupted)
}

// finish ends the run even when ctx is already cancelled so the collected
// results are still written.
func (in *Ingester) finish(ctx context.Context, status string) (*record.RunSummary, error) {
	if status == "" {
		status = StatusInterrupted
	}

	summary, err := in.reporter.OnRunEnd(context.WithoutCancel(ctx), status)
	if err != nil {
		return nil, fmt.Errorf("finalizing run: %w", err)
	}

	return summary, nil
}

func (in *Ingester) dispatch(ctx context.Context, env *Envelope) error {
	switch env.Event {
	case TypeRunBegin:
		var data RunBegin
		if err := env.Decode(&data); err != nil {
			return err
		}

		in.reporter.OnRunBegin(ctx, data.TotalTests)
	case TypeTestBegin:
		var data TestBegin
		if err := env.Decode(&data); err != nil {
			return err
		}

		in.reporter.OnTestBegin(ctx, reporter.TestBegin{
			TestID:   data.TestID,
			SpecFile: data.File,
			Title:    data.Title,
			Retry:    data.Retry,
		})
	case TypeTestEnd:
		var data TestEnd
		if err := env.Decode(&data); err != nil {
			return err
		}

		status, err := record.ParseStatus(data.Status)
		if err != nil {
			in.log.WithError(err).WithField("test", data.Title).Warn("Recording unknown status as failed")
		}

		in.reporter.OnTestEnd(ctx, reporter.TestEnd{
			TestID:      data.TestID,
			SpecFile:    data.File,
			Title:       data.Title,
			Status:      status,
			Retry:       data.Retry,
			ErrorStack:  data.ErrorStack,
			Attachments: data.AttachmentPaths(),
		})
	default:
		return errors.New("unknown event type " + env.Event)
	}

	return nil
}
