// Package pipeline runs one collection cycle: backend sanity check, browser
// session, crawl, normalization and publication, provider by provider.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/artifact"
	"github.com/sells-group/meters-to-ha/internal/injector"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/normalize"
)

// Session is the browser lifecycle the runner owns.
type Session interface {
	Start(ctx context.Context) error
	Stop(keep bool)
	Engine() string
}

// Fetcher downloads the raw export of a provider.
type Fetcher interface {
	Fetch(ctx context.Context, p model.Provider) (model.Artifact, error)
}

// Options configures a run.
type Options struct {
	Providers []model.Provider
	// PCE selects the gas meter in multi-meter exports.
	PCE string
	// DryRun normalizes and prints the updates without pushing them.
	DryRun bool
	// Keep leaves the downloaded exports in place.
	Keep bool
	// Out receives the dry-run table. Nil discards it.
	Out io.Writer
	// Now is the reference clock of the 30-day window. Nil uses time.Now.
	Now func() time.Time
}

// Runner runs one collection cycle.
type Runner struct {
	injector injector.Injector
	session  Session
	fetcher  Fetcher
	opts     Options
}

// NewRunner wires a runner. The session must not be started yet.
func NewRunner(inj injector.Injector, session Session, fetcher Fetcher, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Runner{injector: inj, session: session, fetcher: fetcher, opts: opts}
}

// Run executes the cycle. The first failing provider aborts the run; the
// session is stopped on every path.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), DryRun: r.opts.DryRun}
	log := zap.L().With(zap.String("run_id", report.RunID))
	log.Info("pipeline: run started",
		zap.Any("providers", r.opts.Providers),
		zap.String("injector", r.injector.Name()),
		zap.Bool("dry_run", r.opts.DryRun),
	)

	if len(r.opts.Providers) == 0 {
		return report, eris.New("pipeline: no provider selected")
	}

	track := func(name string, fn func() (string, error)) error {
		start := time.Now()
		detail, err := fn()
		phase := Phase{Name: name, Duration: time.Since(start), Detail: detail, Status: PhaseComplete}
		if err != nil {
			phase.Status = PhaseFailed
			phase.Error = err.Error()
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Duration("duration", phase.Duration), zap.Error(err))
		} else {
			log.Info("pipeline: phase complete", zap.String("phase", name), zap.Duration("duration", phase.Duration), zap.String("detail", detail))
		}
		report.Phases = append(report.Phases, phase)
		return err
	}

	err := track("sanity check", func() (string, error) {
		return r.injector.Name(), r.injector.SanityCheck(ctx)
	})
	if err != nil {
		return report, err
	}

	err = track("browser start", func() (string, error) {
		if err := r.session.Start(ctx); err != nil {
			return "", err
		}
		return r.session.Engine(), nil
	})
	if err != nil {
		return report, err
	}
	defer r.session.Stop(r.opts.Keep)

	for _, p := range r.opts.Providers {
		if err := r.runProvider(ctx, p, report, track); err != nil {
			return report, err
		}
	}

	if r.opts.DryRun {
		RenderUpdates(r.opts.Out, report)
	}

	log.Info("pipeline: run finished on success", zap.Int("updates", len(report.Updates)))
	return report, nil
}

type tracker func(name string, fn func() (string, error)) error

func (r *Runner) runProvider(ctx context.Context, p model.Provider, report *Report, track tracker) error {
	var a model.Artifact
	err := track("crawl "+string(p), func() (string, error) {
		var err error
		a, err = r.fetcher.Fetch(ctx, p)
		return a.Path, err
	})
	if err != nil {
		return err
	}

	switch p {
	case model.ProviderWater:
		return r.water(ctx, a, report, track)
	case model.ProviderGas:
		return r.gas(ctx, a, report, track)
	default:
		return eris.Errorf("pipeline: unknown provider %q", p)
	}
}

func (r *Runner) water(ctx context.Context, a model.Artifact, report *Report, track tracker) error {
	var update *model.WaterUpdate
	err := track("normalize water", func() (string, error) {
		rows, err := artifact.ReadCSVFile(ctx, a.Path, artifact.WaterCSV)
		if err != nil {
			return "", err
		}
		update, err = normalize.NormalizeWater(rows, r.opts.Now(), r.injector.WantsHistory())
		if err != nil {
			return "", err
		}
		return update.Latest.RawTime, nil
	})
	if err != nil {
		return err
	}

	report.addWater(*update)
	if r.opts.DryRun {
		return nil
	}
	return track("push water", func() (string, error) {
		return r.injector.Name(), r.injector.PushWater(ctx, *update)
	})
}

func (r *Runner) gas(ctx context.Context, a model.Artifact, report *Report, track tracker) error {
	var update *model.GasUpdate
	err := track("normalize gas", func() (string, error) {
		export, err := artifact.ReadJSONFile[normalize.GasExport](a.Path)
		if err != nil {
			return "", err
		}
		state, err := r.injector.LastGasState(ctx)
		if err != nil {
			return "", err
		}
		update, err = normalize.NormalizeGas(*export, r.opts.PCE, state, r.opts.Now())
		if err != nil {
			return "", err
		}
		if update == nil {
			return "no new measured record", nil
		}
		return update.Timestamp.Format(time.RFC3339), nil
	})
	if err != nil {
		return err
	}
	if update == nil {
		zap.L().Info("pipeline: nothing to publish for gas")
		return nil
	}

	report.addGas(*update)
	if r.opts.DryRun {
		return nil
	}
	return track("push gas", func() (string, error) {
		return r.injector.Name(), r.injector.PushGas(ctx, *update)
	})
}
