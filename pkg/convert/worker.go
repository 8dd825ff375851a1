package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/metrics"
)

// ImageTool abstracts the conversion binary so tests never spawn qemu-img.
type ImageTool interface {
	Info(ctx context.Context, path string) (*ImageInfo, error)
	Convert(ctx context.Context, src, dst, outFormat string, progress ProgressFunc) error
}

// Store is the persistence surface the worker needs.
type Store interface {
	ClaimImagesForConversion(ctx context.Context, limit int) ([]*models.Image, error)
	RecoverStaleConversions(ctx context.Context, cutoff time.Time) (int64, error)
	TransitionImageStatus(ctx context.Context, id uint, from, to models.ImageStatus) error
	UpdateImage(ctx context.Context, img *models.Image) error
	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// Config holds conversion worker settings.
type Config struct {
	// Enabled toggles the worker. A pointer distinguishes "not set" from
	// "explicitly false".
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`
	// QemuImgPath overrides the qemu-img executable. Empty uses PATH.
	QemuImgPath string `mapstructure:"qemu_img_path" yaml:"qemu_img_path"`
	// PollInterval is the idle delay between queue scans.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// BatchSize is the maximum number of images claimed per scan.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// ConversionTimeout bounds a single qemu-img run.
	ConversionTimeout time.Duration `mapstructure:"conversion_timeout" yaml:"conversion_timeout"`
	// RetainSource keeps the uploaded file after successful conversion.
	RetainSource bool `mapstructure:"retain_source" yaml:"retain_source"`
	// RecoveryGrace is how long a converting image must sit idle before a
	// restarting worker reclaims it.
	RecoveryGrace time.Duration `mapstructure:"recovery_grace" yaml:"recovery_grace"`
}

// ApplyDefaults fills in default values. The output format is fixed to raw;
// that is what the iSCSI fileio backstore serves.
func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.ConversionTimeout <= 0 {
		c.ConversionTimeout = 2 * time.Hour
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = 10 * time.Minute
	}
}

// IsEnabled returns whether the worker should run.
// Defaults to true if not explicitly set.
func (c *Config) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// OutputFormat is the only format conversions produce.
const OutputFormat = "raw"

// Worker drains the image conversion queue.
type Worker struct {
	cfg   Config
	store Store
	tool  ImageTool

	// onConverted is invoked after each successful conversion.
	onConverted func(img *models.Image, elapsed time.Duration)

	// metrics is optional; nil disables collection.
	metrics metrics.BootMetrics
}

// NewWorker builds a worker with the given tool, or the real qemu-img Tool
// if nil.
func NewWorker(cfg Config, store Store, tool ImageTool) *Worker {
	cfg.ApplyDefaults()
	if tool == nil {
		tool = &Tool{Binary: cfg.QemuImgPath}
	}
	return &Worker{cfg: cfg, store: store, tool: tool}
}

// SetConvertedHook registers a callback fired after successful conversions.
func (w *Worker) SetConvertedHook(fn func(img *models.Image, elapsed time.Duration)) {
	w.onConverted = fn
}

// SetMetrics attaches a metrics collector. Pass nil to disable.
func (w *Worker) SetMetrics(m metrics.BootMetrics) {
	w.metrics = m
}

// Run recovers stale claims and then polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-w.cfg.RecoveryGrace)
	if n, err := w.store.RecoverStaleConversions(ctx, cutoff); err != nil {
		logger.Error("stale conversion recovery failed", logger.Err(err))
	} else if n > 0 {
		logger.Info("requeued stale conversions", logger.Count(int(n)))
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes one batch.
func (w *Worker) RunOnce(ctx context.Context) {
	images, err := w.store.ClaimImagesForConversion(ctx, w.cfg.BatchSize)
	if err != nil {
		logger.Error("claiming images for conversion failed", logger.Err(err))
		return
	}

	for _, img := range images {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, img)
	}
}

// process converts one claimed image and records the outcome.
func (w *Worker) process(ctx context.Context, img *models.Image) {
	start := time.Now()
	log := logger.With(
		logger.ImageID(img.ID),
		logger.ImageName(img.Name),
		logger.Format(img.Format),
	)
	log.Info("processing image")

	if err := w.convertOne(ctx, img); err != nil {
		img.ErrorMessage = err.Error()
		if updateErr := w.store.UpdateImage(ctx, img); updateErr != nil {
			log.Error("recording conversion failure", logger.Err(updateErr))
		}
		if stErr := w.store.TransitionImageStatus(ctx, img.ID,
			models.ImageConverting, models.ImageError); stErr != nil {
			log.Error("marking image errored", logger.Err(stErr))
		}
		log.Error("image conversion failed", logger.Err(err))
		if w.metrics != nil {
			w.metrics.RecordConversion("error", time.Since(start))
		}
		return
	}

	if err := w.store.UpdateImage(ctx, img); err != nil {
		log.Error("recording conversion result", logger.Err(err))
		return
	}
	if err := w.store.TransitionImageStatus(ctx, img.ID,
		models.ImageConverting, models.ImageReady); err != nil {
		log.Error("marking image ready", logger.Err(err))
		return
	}

	elapsed := time.Since(start)
	_ = w.store.AppendAuditLog(ctx, &models.AuditLog{
		Action:   models.AuditImageConverted,
		Resource: "image",
		RecordID: img.ID,
		Detail:   fmt.Sprintf("converted to %s in %s", OutputFormat, elapsed.Round(time.Second)),
	})
	if w.onConverted != nil {
		w.onConverted(img, elapsed)
	}
	if w.metrics != nil {
		w.metrics.RecordConversion("success", elapsed)
	}
	log.Info("image ready", logger.DurationMs(logger.Duration(start)))
}

// convertOne performs the conversion and fills in the image row's file path,
// sizes, and processing log. Images already in raw format skip the copy and
// only get probed.
func (w *Worker) convertOne(ctx context.Context, img *models.Image) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConversionTimeout)
	defer cancel()

	info, err := w.tool.Info(ctx, img.FilePath)
	if err != nil {
		return err
	}
	img.VirtualSizeBytes = info.VirtualSize

	if !models.ImageFormat(img.Format).NeedsConversion() {
		img.ProcessingLog = appendLog(img.ProcessingLog, "already raw, conversion skipped")
		return nil
	}

	src := img.FilePath
	dst := rawOutputPath(src)

	var lastPct float64
	err = w.tool.Convert(ctx, src, dst, OutputFormat, func(pct float64) {
		if pct-lastPct >= 10 || pct >= 100 {
			lastPct = pct
			logger.Debug("conversion progress",
				logger.ImageID(img.ID),
				logger.Progress(pct))
		}
	})
	if err != nil {
		return err
	}

	converted, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("stat converted image: %w", err)
	}

	img.FilePath = dst
	img.Filename = filepath.Base(dst)
	img.Format = OutputFormat
	img.SizeBytes = converted.Size()
	img.ProcessingLog = appendLog(img.ProcessingLog,
		fmt.Sprintf("converted %s -> %s (%d bytes)", src, dst, converted.Size()))

	if !w.cfg.RetainSource && src != dst {
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove source image after conversion",
				logger.Path(src), logger.Err(err))
		}
	}
	return nil
}

// rawOutputPath derives the output path for a conversion: same directory,
// .raw extension.
func rawOutputPath(src string) string {
	base := strings.TrimSuffix(src, filepath.Ext(src))
	return base + ".raw"
}

func appendLog(log, line string) string {
	stamp := time.Now().UTC().Format(time.RFC3339)
	entry := stamp + " " + line
	if log == "" {
		return entry
	}
	return log + "\n" + entry
}
