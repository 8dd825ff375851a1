package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// fakeStore is an in-memory Store tracking status transitions.
type fakeStore struct {
	queue       []*models.Image
	updated     []*models.Image
	transitions []string
	audits      []*models.AuditLog
	recovered   int64
}

func (f *fakeStore) ClaimImagesForConversion(ctx context.Context, limit int) ([]*models.Image, error) {
	n := limit
	if n > len(f.queue) {
		n = len(f.queue)
	}
	claimed := f.queue[:n]
	f.queue = f.queue[n:]
	for _, img := range claimed {
		img.Status = string(models.ImageConverting)
	}
	return claimed, nil
}

func (f *fakeStore) RecoverStaleConversions(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.recovered, nil
}

func (f *fakeStore) TransitionImageStatus(ctx context.Context, id uint, from, to models.ImageStatus) error {
	f.transitions = append(f.transitions, fmt.Sprintf("%d:%s->%s", id, from, to))
	return nil
}

func (f *fakeStore) UpdateImage(ctx context.Context, img *models.Image) error {
	f.updated = append(f.updated, img)
	return nil
}

func (f *fakeStore) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	f.audits = append(f.audits, entry)
	return nil
}

// fakeTool simulates qemu-img, writing a fixed-size output file.
type fakeTool struct {
	convertErr error
	infoErr    error
	progress   []float64
	converted  []string
}

func (f *fakeTool) Info(ctx context.Context, path string) (*ImageInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &ImageInfo{Format: "vhdx", VirtualSize: 64 << 30, ActualSize: 10 << 30}, nil
}

func (f *fakeTool) Convert(ctx context.Context, src, dst, outFormat string, progress ProgressFunc) error {
	if f.convertErr != nil {
		return f.convertErr
	}
	for _, pct := range []float64{25, 50, 100} {
		f.progress = append(f.progress, pct)
		if progress != nil {
			progress(pct)
		}
	}
	f.converted = append(f.converted, dst)
	return os.WriteFile(dst, make([]byte, 4096), 0o644)
}

func testImage(t *testing.T, id uint, format string) *models.Image {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, fmt.Sprintf("image-%d.%s", id, format))
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644))
	return &models.Image{
		ID:       id,
		Name:     fmt.Sprintf("image-%d", id),
		Filename: filepath.Base(src),
		FilePath: src,
		Format:   format,
		Status:   string(models.ImageProcessing),
	}
}

func TestWorkerConvertsClaimedImage(t *testing.T) {
	img := testImage(t, 3, "vhdx")
	store := &fakeStore{queue: []*models.Image{img}}
	tool := &fakeTool{}
	w := NewWorker(Config{}, store, tool)

	w.RunOnce(context.Background())

	require.Len(t, store.updated, 1)
	updated := store.updated[0]
	assert.Equal(t, OutputFormat, updated.Format)
	assert.Equal(t, int64(64<<30), updated.VirtualSizeBytes)
	assert.Equal(t, int64(4096), updated.SizeBytes)
	assert.True(t, filepath.Ext(updated.FilePath) == ".raw")
	assert.Contains(t, updated.ProcessingLog, "converted")

	assert.Equal(t, []string{"3:converting->ready"}, store.transitions)

	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditImageConverted, store.audits[0].Action)

	// Source removed because RetainSource defaults to false.
	assert.NoFileExists(t, filepath.Join(filepath.Dir(updated.FilePath), "image-3.vhdx"))
}

func TestWorkerRetainsSource(t *testing.T) {
	img := testImage(t, 4, "vhdx")
	src := img.FilePath
	store := &fakeStore{queue: []*models.Image{img}}
	w := NewWorker(Config{RetainSource: true}, store, &fakeTool{})

	w.RunOnce(context.Background())

	assert.FileExists(t, src)
}

func TestWorkerSkipsConversionForRaw(t *testing.T) {
	img := testImage(t, 5, "raw")
	src := img.FilePath
	store := &fakeStore{queue: []*models.Image{img}}
	tool := &fakeTool{}
	w := NewWorker(Config{}, store, tool)

	w.RunOnce(context.Background())

	assert.Empty(t, tool.converted, "raw images must not be converted")
	assert.Equal(t, src, store.updated[0].FilePath)
	assert.Equal(t, int64(64<<30), store.updated[0].VirtualSizeBytes)
	assert.Equal(t, []string{"5:converting->ready"}, store.transitions)
}

func TestWorkerRecordsFailure(t *testing.T) {
	img := testImage(t, 6, "vhdx")
	store := &fakeStore{queue: []*models.Image{img}}
	tool := &fakeTool{convertErr: &ConversionError{
		Input:  img.FilePath,
		Stderr: "qemu-img: error while reading sector",
		Err:    fmt.Errorf("exit status 1"),
	}}
	w := NewWorker(Config{}, store, tool)

	w.RunOnce(context.Background())

	assert.Equal(t, []string{"6:converting->error"}, store.transitions)
	require.Len(t, store.updated, 1)
	assert.Contains(t, store.updated[0].ErrorMessage, "error while reading sector")
	assert.Empty(t, store.audits)
}

func TestWorkerConvertedHook(t *testing.T) {
	img := testImage(t, 7, "vhd")
	store := &fakeStore{queue: []*models.Image{img}}
	w := NewWorker(Config{}, store, &fakeTool{})

	var hooked uint
	w.SetConvertedHook(func(img *models.Image, elapsed time.Duration) {
		hooked = img.ID
	})
	w.RunOnce(context.Background())

	assert.Equal(t, uint(7), hooked)
}
