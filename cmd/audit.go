// Package cmd provides CLI commands for the tala tool.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/otherjamesbrown/tala/config"
	"github.com/otherjamesbrown/tala/pkg/audit/ingest"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
	"github.com/otherjamesbrown/tala/pkg/logging"
	"github.com/otherjamesbrown/tala/pkg/observability"
	"github.com/otherjamesbrown/tala/pkg/report"
	"github.com/otherjamesbrown/tala/pkg/uidmap"
)

// MaxExitCode caps the exit status so that it never collides with the
// codes shells reserve.
const MaxExitCode = 125

// ExitError reports a run that went to completion with counted failures:
// unreadable input paths and rejected rows.
type ExitError struct {
	Failures int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%d input failures", e.Failures)
}

// Code returns the process exit status for the run.
func (e *ExitError) Code() int {
	return min(e.Failures, MaxExitCode)
}

// AuditCommandDeps holds the dependencies of the audit log commands.
type AuditCommandDeps struct {
	Config     *config.Config
	LoadConfig func() (*config.Config, error)
	LoadUsers  func(path string) (*uidmap.Table, error)
	Logger     logging.Logger
	Metrics    *observability.RunMetrics
	Tracer     *observability.Tracer
}

// DefaultAuditDeps returns the default dependencies for production use.
func DefaultAuditDeps() *AuditCommandDeps {
	return &AuditCommandDeps{
		LoadConfig: config.LoadConfig,
		LoadUsers:  uidmap.Load,
	}
}

// init fills in whatever the root command did not provide.
func (d *AuditCommandDeps) init() error {
	if d.Config == nil {
		load := d.LoadConfig
		if load == nil {
			load = config.LoadConfig
		}
		cfg, err := load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		d.Config = cfg
	}
	if d.LoadUsers == nil {
		d.LoadUsers = uidmap.Load
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewRunMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = observability.NewTracer()
	}
	return nil
}

// auditRun is one execution of an audit log command.
type auditRun struct {
	deps  *AuditCommandDeps
	cfg   *config.Config
	users *uidmap.Table
}

// emails returns the UID table as an email lookup, nil when none is configured.
func (r *auditRun) emails() report.EmailLookup {
	if r.users == nil {
		return nil
	}
	return r.users
}

// runSources processes every source in turn (standard input when there are
// none) and hands each result to each. Sources are independent: meetings
// and sessions never carry over from one to the next. The UID table is
// shared and saved at the end when it learned new organizers.
func runSources(
	ctx context.Context,
	deps *AuditCommandDeps,
	cfg *config.Config,
	sources []string,
	each func(*auditRun, *ingest.Result) error,
	opts ...ingest.Option,
) error {
	run := &auditRun{deps: deps, cfg: cfg}
	log := deps.Logger.WithContext(ctx)

	if cfg.UsersFile != "" {
		path, err := config.ExpandPath(cfg.UsersFile)
		if err != nil {
			return err
		}
		users, err := deps.LoadUsers(path)
		if err != nil {
			return fmt.Errorf("loading users file: %w", err)
		}
		run.users = users
		opts = append(opts, ingest.WithDirectory(users))
	}

	opts = append([]ingest.Option{
		ingest.WithMetrics(deps.Metrics),
		ingest.WithTracer(deps.Tracer),
	}, opts...)
	p := ingest.NewProcessor(deps.Logger, opts...)

	if len(sources) == 0 {
		sources = []string{ingest.Stdin}
	}

	failures := 0
	runErr := func() error {
		for _, src := range sources {
			res, err := p.ProcessFile(ctx, src)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				if !talaerrors.IsInputPath(err) {
					log.Error("Source abandoned", logging.F("source", src), logging.Err(err))
				}
				failures++
				continue
			}
			failures += res.Failures()

			if err := each(run, res); err != nil {
				return err
			}
		}
		return nil
	}()

	if err := finish(deps, cfg, run.users, log); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	if failures > 0 {
		return &ExitError{Failures: failures}
	}
	return nil
}

// finish saves the UID table and writes the metrics file.
func finish(deps *AuditCommandDeps, cfg *config.Config, users *uidmap.Table, log logging.Logger) error {
	var firstErr error

	if users.Dirty() {
		if err := users.Save(); err != nil {
			log.Error("Cannot save users file", logging.F("path", users.Path()), logging.Err(err))
			firstErr = fmt.Errorf("saving users file: %w", err)
		} else {
			log.Info("Users file updated", logging.F("path", users.Path()), logging.F("entries", users.Len()))
		}
	}

	if cfg.MetricsFile != "" {
		path, err := config.ExpandPath(cfg.MetricsFile)
		if err == nil {
			err = deps.Metrics.WriteTextfile(path)
		}
		if err != nil {
			log.Error("Cannot write metrics file", logging.F("path", cfg.MetricsFile), logging.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// resolveFormat returns the output format flag, or the configured one when
// the flag is empty.
func resolveFormat(flag string, cfg *config.Config) (config.OutputFormat, error) {
	if flag == "" {
		return cfg.OutputFormat, nil
	}
	f := config.OutputFormat(flag)
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid output format: %s (must be csv, json, or yaml)", talaerrors.ErrInvalidConfig, flag)
	}
	return f, nil
}
