// Package imagestore receives disk image uploads and owns the images
// directory.
//
// Uploads stream through the checksum pass straight to disk; the image row
// moves uploading -> processing once the bytes are safely on disk, which is
// what queues it for the conversion worker.
package imagestore

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ggnet/ggboot/internal/bytesize"
	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// Config holds image store settings.
type Config struct {
	// Dir is the directory holding uploaded and converted images.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxUploadBytes caps a single upload. Zero means unlimited.
	MaxUploadBytes bytesize.ByteSize `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = "/var/lib/ggboot/images"
	}
}

// Store is the persistence surface the image store needs.
type Store interface {
	GetImage(ctx context.Context, id uint) (*models.Image, error)
	CreateImage(ctx context.Context, img *models.Image) error
	UpdateImage(ctx context.Context, img *models.Image) error
	TransitionImageStatus(ctx context.Context, id uint, from, to models.ImageStatus) error
	SoftDeleteImage(ctx context.Context, id uint) error
	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// UploadRequest carries the metadata accompanying an upload stream.
type UploadRequest struct {
	Name      string
	Filename  string
	ImageType string
	CreatedBy uint
}

// Integrity reports the stored checksums of an image.
type Integrity struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// ImageStore manages image files and their database rows.
type ImageStore struct {
	cfg   Config
	store Store
}

// New creates the images directory if missing.
func New(cfg Config, st Store) (*ImageStore, error) {
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating images directory: %w", err)
	}
	return &ImageStore{cfg: cfg, store: st}, nil
}

// Dir returns the images directory.
func (s *ImageStore) Dir() string {
	return s.cfg.Dir
}

// AcceptUpload streams an upload to disk, computing MD5 and SHA-256 in the
// same pass, and queues the image for conversion. The returned image is in
// processing status.
func (s *ImageStore) AcceptUpload(ctx context.Context, req UploadRequest, body io.Reader) (*models.Image, error) {
	format, err := models.FormatFromFilename(req.Filename)
	if err != nil {
		return nil, err
	}

	imageType := req.ImageType
	if imageType == "" {
		imageType = string(models.ImageTypeSystem)
	}

	storedName := fmt.Sprintf("%d_%s", time.Now().Unix(), filepath.Base(req.Filename))
	path := filepath.Join(s.cfg.Dir, storedName)

	img := &models.Image{
		Name:             req.Name,
		Filename:         storedName,
		OriginalFilename: req.Filename,
		FilePath:         path,
		Format:           string(format),
		ImageType:        imageType,
		Status:           string(models.ImageUploading),
		CreatedBy:        req.CreatedBy,
	}
	if err := s.store.CreateImage(ctx, img); err != nil {
		return nil, err
	}

	written, md5sum, sha256sum, err := s.streamToFile(path, body)
	if err != nil {
		s.abortUpload(ctx, img, path)
		return nil, err
	}

	img.SizeBytes = written
	img.ChecksumMD5 = md5sum
	img.ChecksumSHA256 = sha256sum
	if err := s.store.UpdateImage(ctx, img); err != nil {
		s.abortUpload(ctx, img, path)
		return nil, err
	}
	if err := s.store.TransitionImageStatus(ctx, img.ID,
		models.ImageUploading, models.ImageProcessing); err != nil {
		s.abortUpload(ctx, img, path)
		return nil, err
	}
	img.Status = string(models.ImageProcessing)

	_ = s.store.AppendAuditLog(ctx, &models.AuditLog{
		Action:   models.AuditImageUploaded,
		ActorID:  req.CreatedBy,
		Resource: "image",
		RecordID: img.ID,
		Detail:   fmt.Sprintf("%s (%d bytes, %s)", req.Filename, written, format),
	})
	logger.Info("image uploaded",
		logger.ImageID(img.ID),
		logger.ImageName(img.Name),
		logger.Size(written),
		logger.Format(img.Format))
	return img, nil
}

// streamToFile copies the body to path while hashing it. Enforces the upload
// ceiling and removes the partial file on failure.
func (s *ImageStore) streamToFile(path string, body io.Reader) (int64, string, string, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, "", "", fmt.Errorf("creating image file: %w", err)
	}

	md5Hash := md5.New()
	shaHash := sha256.New()
	dst := io.MultiWriter(f, md5Hash, shaHash)

	reader := body
	limit := s.cfg.MaxUploadBytes.Int64()
	if limit > 0 {
		reader = io.LimitReader(body, limit+1)
	}

	written, err := io.Copy(dst, reader)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, "", "", fmt.Errorf("writing upload: %w", err)
	}
	if limit > 0 && written > limit {
		f.Close()
		os.Remove(path)
		return 0, "", "", fmt.Errorf("%w: upload exceeds %s",
			models.ErrQuotaExceeded, s.cfg.MaxUploadBytes)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, "", "", fmt.Errorf("syncing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, "", "", fmt.Errorf("closing upload: %w", err)
	}

	return written,
		hex.EncodeToString(md5Hash.Sum(nil)),
		hex.EncodeToString(shaHash.Sum(nil)),
		nil
}

// abortUpload marks a failed upload errored and removes its partial file.
func (s *ImageStore) abortUpload(ctx context.Context, img *models.Image, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove aborted upload", logger.Path(path), logger.Err(err))
	}
	if err := s.store.TransitionImageStatus(ctx, img.ID,
		models.ImageUploading, models.ImageError); err != nil {
		logger.Warn("failed to mark aborted upload", logger.ImageID(img.ID), logger.Err(err))
	}
}

// GetIntegrity returns the checksums recorded during upload.
func (s *ImageStore) GetIntegrity(ctx context.Context, id uint) (*Integrity, error) {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Integrity{
		MD5:    img.ChecksumMD5,
		SHA256: img.ChecksumSHA256,
		Bytes:  img.SizeBytes,
	}, nil
}

// Delete soft-deletes the image row and removes its backing file. The store
// refuses the delete while any target references the image.
func (s *ImageStore) Delete(ctx context.Context, id uint, actorID uint) error {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteImage(ctx, id); err != nil {
		return err
	}

	if img.FilePath != "" {
		if err := os.Remove(img.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove deleted image file",
				logger.ImageID(id), logger.Path(img.FilePath), logger.Err(err))
		}
	}

	_ = s.store.AppendAuditLog(ctx, &models.AuditLog{
		Action:   models.AuditImageDeleted,
		ActorID:  actorID,
		Resource: "image",
		RecordID: id,
		Detail:   img.Name,
	})
	logger.Info("image deleted", logger.ImageID(id), logger.ImageName(img.Name))
	return nil
}
