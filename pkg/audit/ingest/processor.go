package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/extract"
	"github.com/otherjamesbrown/tala/pkg/audit/meetings"
	"github.com/otherjamesbrown/tala/pkg/audit/payload"
	"github.com/otherjamesbrown/tala/pkg/audit/sessions"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
	"github.com/otherjamesbrown/tala/pkg/logging"
	"github.com/otherjamesbrown/tala/pkg/observability"
)

// Stdin is the source name of standard input.
const Stdin = "-"

// RowHandler is called with every decoded row, in input order, before the row
// is aggregated. Returning an error stops the source.
type RowHandler func(row audit.Row, rec *payload.Record) error

// Result is the outcome of processing one source.
type Result struct {
	Source     string
	Organizers *meetings.Aggregator
	Sessions   *sessions.Store

	// Rows counts data rows read, accepted or not.
	Rows       int
	Accepted   int
	Rejected   int
	Headers    int
	Duplicates int
	Advisories int

	// Errors lists the rejected rows.
	Errors []*talaerrors.RowError
}

// Failures returns the number of rejected rows that count towards the exit
// status.
func (r *Result) Failures() int {
	n := 0
	for _, e := range r.Errors {
		if talaerrors.IsCounted(e.Code) {
			n++
		}
	}
	return n
}

// Processor runs audit sources through the analysis pipeline. A Processor
// is not safe for concurrent use.
type Processor struct {
	logger    logging.Logger
	metrics   *observability.RunMetrics
	tracer    *observability.Tracer
	directory meetings.Directory
	onRow     RowHandler
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics records run counters in m.
func WithMetrics(m *observability.RunMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithTracer records a span per source.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Processor) { p.tracer = t }
}

// WithDirectory lets dir learn the organizer of every new meeting.
func WithDirectory(dir meetings.Directory) Option {
	return func(p *Processor) { p.directory = dir }
}

// WithRowHandler calls h with every decoded row.
func WithRowHandler(h RowHandler) Option {
	return func(p *Processor) { p.onRow = h }
}

// NewProcessor creates a processor. logger may be nil.
func NewProcessor(logger logging.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Processor{
		logger: logger.With(logging.F("component", "ingest")),
		tracer: observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFile processes the audit log at path; Stdin reads standard input.
// A path that is not a readable regular file yields an error wrapping
// ErrInputPath.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	if path == Stdin {
		return p.Process(ctx, Stdin, os.Stdin)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, p.sourceError(path, fmt.Errorf("%w: %v", talaerrors.ErrInputPath, err))
	}
	if !info.Mode().IsRegular() {
		return nil, p.sourceError(path, fmt.Errorf("%w: %s is not a file", talaerrors.ErrInputPath, path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, p.sourceError(path, fmt.Errorf("%w: %v", talaerrors.ErrInputPath, err))
	}
	defer f.Close()

	return p.Process(ctx, path, f)
}

// sourceError logs and counts a source that could not be opened.
func (p *Processor) sourceError(path string, err error) error {
	re := talaerrors.ClassifyError(err, path, 0)
	p.logger.Error("Cannot read input",
		logging.F("source", path),
		logging.F("code", string(re.Code)),
		logging.F("hint", talaerrors.GetSuggestedAction(re.Code)),
		logging.Err(err))
	if p.metrics != nil {
		p.metrics.RecordSource(observability.SourceStatusFailed)
		p.metrics.RecordRowError(string(re.Code))
	}
	return re
}

// Process reads every row of r and returns the meetings and sessions they
// describe. Rows that cannot be decoded are logged, counted and skipped.
//
// The returned error is non-nil only when the source could not be read to
// the end: a read error, a row handler error or ctx cancellation.
func (p *Processor) Process(ctx context.Context, source string, r io.Reader) (*Result, error) {
	ctx = logging.WithSource(ctx, source)
	ctx, span := p.tracer.StartSourceSpan(ctx, logging.RunID(ctx), source)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	log := p.logger.WithContext(ctx)
	log.Debug("Processing source")

	res := &Result{
		Source:     source,
		Organizers: meetings.NewAggregator(p.directory),
		Sessions:   sessions.NewStore(),
	}

	err := p.run(ctx, log, NewRowReader(source, r), res)

	spanHelper.SetSourceResult(res.Rows, res.Rejected, res.Advisories, res.Organizers.Len(), res.Sessions.SessionCount())
	if p.metrics != nil {
		p.metrics.SetMeetings(res.Organizers.Len())
	}

	if err != nil {
		re := talaerrors.ClassifyError(err, source, 0)
		spanHelper.SetError(err, string(re.Code))
		if p.metrics != nil {
			p.metrics.RecordSource(observability.SourceStatusFailed)
		}
		return res, err
	}

	spanHelper.SetSuccess()
	if p.metrics != nil {
		p.metrics.RecordSource(observability.SourceStatusProcessed)
	}
	log.Info("Source processed",
		logging.F("rows", res.Rows),
		logging.F("rejected", res.Rejected),
		logging.F("meetings", res.Organizers.Len()),
		logging.F("sessions", res.Sessions.SessionCount()))
	return res, nil
}

func (p *Processor) run(ctx context.Context, log logging.Logger, rr *RowReader, res *Result) error {
	defer func() {
		res.Headers = rr.Headers()
		if p.metrics != nil {
			for i := 0; i < res.Headers; i++ {
				p.metrics.RecordRow(observability.RowStatusHeader)
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !talaerrors.IsShortRow(err) && !errors.As(err, &pe) {
				return fmt.Errorf("read %s: %w", res.Source, err)
			}
			res.Rows++
			p.reject(ctx, log, res, row, err)
			continue
		}
		res.Rows++

		if err := p.processRow(ctx, log, res, row); err != nil {
			return err
		}
	}
}

// processRow decodes one row and folds it into res. Only a row handler error
// is returned; decoding errors reject the row.
func (p *Processor) processRow(ctx context.Context, log logging.Logger, res *Result, row audit.Row) error {
	rec, err := payload.ParseAuditData(row.AuditData)
	if err != nil {
		p.reject(ctx, log, res, row, err)
		return nil
	}

	if p.onRow != nil {
		if err := p.onRow(row, rec); err != nil {
			return err
		}
	}

	fields, advs := extract.Extract(rec, row)
	advs = append(advs, res.Organizers.Ingest(fields.MeetingID, fields)...)

	inserted := res.Sessions.Insert(fields.MeetingID, fields.AttendeeKey, sessions.FromFields(fields))
	if !inserted {
		res.Duplicates++
	}

	res.Accepted++
	if p.metrics != nil {
		p.metrics.RecordRow(observability.RowStatusAccepted)
		p.metrics.RecordSession(inserted)
	}

	p.advise(log, res, row, advs)
	return nil
}

// reject logs and counts a row that could not be decoded, and records it
// on the source span.
func (p *Processor) reject(ctx context.Context, log logging.Logger, res *Result, row audit.Row, err error) {
	re := talaerrors.ClassifyError(err, row.Source, row.Line)
	res.Rejected++
	res.Errors = append(res.Errors, re)

	log.Error("Row rejected",
		logging.F("line", re.Line),
		logging.F("code", string(re.Code)),
		logging.F("hint", talaerrors.GetSuggestedAction(re.Code)),
		logging.Err(err))
	observability.SpanHelperFromContext(ctx).RowRejected(re.Line, string(re.Code), talaerrors.GetDescription(re.Code))

	if p.metrics != nil {
		p.metrics.RecordRow(observability.RowStatusRejected)
		p.metrics.RecordRowError(string(re.Code))
	}
}

// advise logs advisories at the level matching their severity.
func (p *Processor) advise(log logging.Logger, res *Result, row audit.Row, advs []audit.Advisory) {
	for _, a := range advs {
		res.Advisories++
		if p.metrics != nil {
			p.metrics.RecordAdvisory(string(a.Code), string(a.Severity))
		}

		fields := []logging.Field{
			logging.F("line", row.Line),
			logging.F("code", string(a.Code)),
			logging.F("field", a.Field),
		}
		if a.Value != "" {
			fields = append(fields, logging.F("value", a.Value))
		}

		switch a.Severity {
		case audit.SeverityError:
			log.Error(a.Message, fields...)
		case audit.SeverityWarn:
			log.Warn(a.Message, fields...)
		default:
			log.Debug(a.Message, fields...)
		}
	}
}
