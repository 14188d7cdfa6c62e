package neuroprep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/NeuroPrep/internal/epochs"
	"github.com/himanishpuri/NeuroPrep/internal/events"
	"github.com/himanishpuri/NeuroPrep/internal/filter"
	"github.com/himanishpuri/NeuroPrep/internal/ica"
	"github.com/himanishpuri/NeuroPrep/internal/montage"
	"github.com/himanishpuri/NeuroPrep/internal/recording"
	"github.com/himanishpuri/NeuroPrep/internal/storage"
	"github.com/himanishpuri/NeuroPrep/pkg/logger"
	"github.com/himanishpuri/NeuroPrep/pkg/models"
)

// prepService is the default implementation of the Service interface.
type prepService struct {
	storage Storage
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	// Set default logger if none provided
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().WithPrefix("neuroprep")
	}
	if cfg.Storage == nil {
		cfg.Storage = NewFileStorage()
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory must not be empty")
	}
	if cfg.Workers > 0 {
		SetWorkers(cfg.Workers)
	}

	return &prepService{
		storage: cfg.Storage,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

// Preprocess runs the full pipeline for one subject: channel setup, band-pass
// filtering, ICA artifact removal, average reference, epoching and automated
// rejection. The ICA model is always saved; the cleaned epochs are saved
// when params.Export is set. Files from earlier runs of the same subject are
// overwritten, and files written before a failing step are left in place.
func (s *prepService) Preprocess(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()
	p := params
	if err := validateParams(&p); err != nil {
		return nil, err
	}
	outDir := s.config.OutputDir
	if p.OutputDir != "" {
		outDir = p.OutputDir
	}
	res := &Result{Subject: p.Subject}
	s.log.Infof("Preprocessing subject %d: %s", p.Subject, p.RawPath)

	// 1. Read the continuous recording
	rec, err := recording.Read(p.RawPath, recording.WAVOptions{Labels: p.WAVChannels})
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	res.NChannels = rec.NChannels()
	s.log.Infof("Loaded %d channels, %s samples at %g Hz (%.1f s)",
		rec.NChannels(), humanize.Comma(int64(rec.NSamples())), rec.SFreq, rec.Duration())

	// 2. Mark bad channels and retype EOG channels
	if missing := recording.MarkBads(rec, p.RemoveChannels); len(missing) > 0 {
		s.log.Warnf("Channels to remove not in recording: %v", missing)
	}
	if missing := recording.SetChannelTypes(rec, p.EOGChannels, models.ChannelEOG); len(missing) > 0 {
		s.log.Warnf("EOG channels not in recording: %v", missing)
	}
	res.Bads = append([]string(nil), rec.Bads...)

	// 3. Attach electrode positions
	if p.MontagePath != "" {
		mont, err := montage.Read(p.MontagePath)
		if err != nil {
			return nil, fmt.Errorf("reading montage: %w", err)
		}
		if missing := montage.Apply(rec, mont); len(missing) > 0 {
			s.log.Warnf("No montage position for %d EEG channels: %v", len(missing), missing)
		}
	} else {
		s.log.Warnf("No montage given; bad channels will not be interpolated")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Band-pass a copy; the raw recording is kept for artifact scoring
	band := filter.Band{LFreq: p.LFreq, HFreq: p.HFreq}
	filtered := rec.Copy()
	if err := filter.Recording(ctx, filtered, band); err != nil {
		return nil, fmt.Errorf("filtering: %w", err)
	}
	s.log.Debugf("Applied %s filter", band)

	// 5. Fit ICA on the filtered data
	model, err := ica.Fit(ctx, filtered, ica.Options{Seed: s.config.Seed})
	switch {
	case errors.Is(err, ica.ErrNotConverged):
		s.log.Warnf("ICA stopped after %d iterations without converging", model.NIter)
	case err != nil:
		return nil, fmt.Errorf("fitting ica: %w", err)
	}
	res.Components = model.NComponents
	res.Converged = model.Converged
	s.log.Infof("ICA: %d components explain %.2f%% of variance", model.NComponents, 100*model.ExplainedVariance)

	// 6. Find eye and muscle components against the raw recording
	eog, err := ica.FindBadsEOG(ctx, model, rec, s.config.FrontalChannels, p.ICAZThresh)
	switch {
	case errors.Is(err, ica.ErrNoEOGChannels):
		s.log.Warnf("Skipping EOG detection: none of %v present", s.config.FrontalChannels)
	case err != nil:
		return nil, fmt.Errorf("finding eog components: %w", err)
	}
	muscle, err := ica.FindBadsMuscle(ctx, model, rec, p.ICAZThresh)
	if err != nil {
		return nil, fmt.Errorf("finding muscle components: %w", err)
	}
	model.Exclude = ica.MergeExclude(muscle, eog)
	res.ExcludeEOG, res.ExcludeMuscle = eog, muscle
	res.Exclude = append([]int(nil), model.Exclude...)
	s.log.Infof("Excluding components %v (eog %v, muscle %v)", model.Exclude, eog, muscle)

	// 7. Save the ICA model
	res.ICAPath = storage.ICAPath(outDir, p.Subject)
	if err := s.storage.WriteICA(res.ICAPath, p.Subject, model); err != nil {
		return nil, fmt.Errorf("saving ica: %w", err)
	}
	s.log.Infof("Saved ICA model to %s%s", res.ICAPath, fileSize(res.ICAPath))

	// 8. Remove the excluded components
	cleaned := filtered.Copy()
	if err := ica.Apply(model, cleaned); err != nil {
		return nil, fmt.Errorf("applying ica: %w", err)
	}

	// 9. Average reference
	if err := recording.SetAverageReference(cleaned); err != nil {
		return nil, fmt.Errorf("setting average reference: %w", err)
	}

	// 10. Annotate events
	evts, err := events.Read(p.EventPath)
	if err != nil {
		if errors.Is(err, events.ErrNoEvents) {
			return nil, fmt.Errorf("%w: %w", ErrNoEvents, err)
		}
		return nil, fmt.Errorf("reading events: %w", err)
	}
	anns, unmapped := events.ToAnnotations(evts, p.EventDict, rec.SFreq)
	if unmapped > 0 {
		s.log.Warnf("Dropped %d of %d events with codes outside the event dictionary", unmapped, len(evts))
	}
	recording.SetAnnotations(cleaned, anns)
	res.EventsRead, res.EventsUnmapped = len(evts), unmapped

	// 11. Epoch around the annotated events
	evs, eventID := recording.EventsFromAnnotations(cleaned)
	recording.DeleteProjections(cleaned)
	ep, stats, err := epochs.Build(cleaned, evs, eventID, p.TMin, p.TMax, &[2]float64{p.TMin, 0})
	if err != nil {
		return nil, fmt.Errorf("building epochs: %w", err)
	}
	res.EventsOutOfBounds = stats.OutOfBounds
	res.EpochsBefore = ep.Len()
	if stats.OutOfBounds > 0 {
		s.log.Warnf("Dropped %d events whose window exceeds the recording", stats.OutOfBounds)
	}
	s.log.Infof("Built %d epochs of %d samples (%v)", ep.Len(), ep.NTimes(), ep.Labels())

	// 12. Automated rejection
	ar := s.config.AutoReject
	clean, rejectLog, err := epochs.AutoReject(ctx, ep, epochs.Options{
		Consensus:    ar.Consensus,
		NInterpolate: ar.NInterpolate,
		Folds:        ar.Folds,
	})
	if err != nil {
		return nil, fmt.Errorf("rejecting epochs: %w", err)
	}
	res.Epochs, res.RejectLog = clean, rejectLog
	res.EpochsAfter = clean.Len()
	s.log.Infof("AutoReject kept %d of %d epochs (consensus %.1f, interpolate %d, %d cells repaired)",
		clean.Len(), ep.Len(), rejectLog.Consensus, rejectLog.NInterp, rejectLog.NInterpolated())

	// 13. Save the cleaned epochs
	if p.Export {
		res.EpochsPath = storage.EpochsPath(outDir, p.Subject)
		if err := s.storage.WriteEpochs(res.EpochsPath, p.Subject, clean, rejectLog); err != nil {
			return nil, fmt.Errorf("saving epochs: %w", err)
		}
		s.log.Infof("Saved epochs to %s%s", res.EpochsPath, fileSize(res.EpochsPath))
	}

	res.Duration = time.Since(start)
	s.log.Infof("Subject %d done in %s", p.Subject, res.Duration.Round(time.Millisecond))
	return res, nil
}

func validateParams(p *Params) error {
	switch {
	case p.RawPath == "":
		return errors.New("raw recording path is required")
	case p.EventPath == "":
		return errors.New("event file path is required")
	case len(p.EventDict) == 0:
		return errors.New("event dictionary is empty")
	case p.TMax <= p.TMin:
		return fmt.Errorf("epoch window [%g, %g] is empty", p.TMin, p.TMax)
	case p.TMin > 0:
		return fmt.Errorf("tmin %g leaves no pre-stimulus baseline", p.TMin)
	case p.ICAZThresh <= 0:
		return fmt.Errorf("ica threshold must be positive, got %g", p.ICAZThresh)
	}
	return nil
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return " (" + humanize.Bytes(uint64(info.Size())) + ")"
}

// GenerateEvokes loads each epochs file in order and averages the epochs of
// both conditions. Condition names are tag selectors: "con" matches
// "con/MC/s".
func (s *prepService) GenerateEvokes(paths []string, cond1, cond2 string) (*Evokes, error) {
	return generateEvokes(s.storage, s.log, paths, cond1, cond2)
}

func (s *prepService) ListEpochs(dir string) ([]EpochsSummary, error) {
	list, skipped, err := s.storage.ListEpochs(dir)
	if err != nil {
		return nil, err
	}
	for path, err := range skipped {
		s.log.Warnf("Skipping %s: %v", path, err)
	}
	return list, nil
}

func (s *prepService) LoadEpochs(path string) (*models.Epochs, *models.RejectLog, error) {
	return s.storage.ReadEpochs(path)
}

func (s *prepService) LoadICA(path string) (*models.ICA, error) {
	return s.storage.ReadICA(path)
}

// Close releases all resources held by the service.
func (s *prepService) Close() error {
	return s.storage.Close()
}
