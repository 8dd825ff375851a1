package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ImageFormat represents the on-disk format of a disk image.
type ImageFormat string

const (
	FormatVHD   ImageFormat = "vhd"
	FormatVHDX  ImageFormat = "vhdx"
	FormatRAW   ImageFormat = "raw"
	FormatQCOW2 ImageFormat = "qcow2"
	FormatVMDK  ImageFormat = "vmdk"
	FormatVDI   ImageFormat = "vdi"
)

// IsValid checks if the format is a recognized ImageFormat.
func (f ImageFormat) IsValid() bool {
	switch f {
	case FormatVHD, FormatVHDX, FormatRAW, FormatQCOW2, FormatVMDK, FormatVDI:
		return true
	}
	return false
}

// NeedsConversion reports whether images in this format must be converted to
// RAW before they can back an iSCSI LUN.
func (f ImageFormat) NeedsConversion() bool {
	return f != FormatRAW
}

// FormatFromFilename derives the image format from a filename extension.
// Returns ErrInvalidImageFormat for unrecognized extensions.
func FormatFromFilename(name string) (ImageFormat, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "img" {
		ext = "raw"
	}
	f := ImageFormat(ext)
	if !f.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidImageFormat, ext)
	}
	return f, nil
}

// ImageType categorizes what an image is used for.
type ImageType string

const (
	ImageTypeSystem   ImageType = "system"
	ImageTypeGame     ImageType = "game"
	ImageTypeData     ImageType = "data"
	ImageTypeTemplate ImageType = "template"
)

// IsValid checks if the type is a recognized ImageType.
func (t ImageType) IsValid() bool {
	switch t {
	case ImageTypeSystem, ImageTypeGame, ImageTypeData, ImageTypeTemplate:
		return true
	}
	return false
}

// ImageStatus represents an image's position in its processing lifecycle.
type ImageStatus string

const (
	// ImageUploading: row exists, bytes still streaming in.
	ImageUploading ImageStatus = "uploading"
	// ImageProcessing: upload complete, queued for checksum/conversion.
	ImageProcessing ImageStatus = "processing"
	// ImageConverting: claimed by a conversion worker.
	ImageConverting ImageStatus = "converting"
	// ImageReady: usable as an iSCSI backstore.
	ImageReady ImageStatus = "ready"
	// ImageError: processing failed; retryable back to processing.
	ImageError ImageStatus = "error"
	// ImageDeleted: terminal soft-delete state.
	ImageDeleted ImageStatus = "deleted"
)

// imageTransitions encodes the allowed status DAG.
// error is absorbing but retryable; deleted is terminal.
var imageTransitions = map[ImageStatus][]ImageStatus{
	ImageUploading:  {ImageProcessing, ImageError, ImageDeleted},
	ImageProcessing: {ImageConverting, ImageReady, ImageError, ImageDeleted},
	ImageConverting: {ImageReady, ImageError},
	ImageReady:      {ImageDeleted},
	ImageError:      {ImageProcessing, ImageDeleted},
	ImageDeleted:    {},
}

// CanTransitionTo reports whether a status change from s to next is legal.
func (s ImageStatus) CanTransitionTo(next ImageStatus) bool {
	for _, allowed := range imageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OnDisk reports whether an image in this status has a backing file.
func (s ImageStatus) OnDisk() bool {
	switch s {
	case ImageUploading, ImageProcessing, ImageConverting, ImageReady:
		return true
	}
	return false
}

// Image represents an uploaded disk image.
type Image struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"index;not null;size:255" json:"name"`
	Filename         string    `gorm:"size:255" json:"filename"`
	FilePath         string    `gorm:"size:1024" json:"file_path"`
	OriginalFilename string    `gorm:"size:255" json:"original_filename"`
	Format           string    `gorm:"size:20" json:"format"`
	ImageType        string    `gorm:"size:20;index;default:system" json:"image_type"`
	SizeBytes        int64     `json:"size_bytes"`
	VirtualSizeBytes int64     `json:"virtual_size_bytes"`
	ChecksumMD5      string    `gorm:"size:32" json:"checksum_md5,omitempty"`
	ChecksumSHA256   string    `gorm:"size:64" json:"checksum_sha256,omitempty"`
	Status           string    `gorm:"size:20;index;default:uploading" json:"status"`
	ErrorMessage     string    `gorm:"type:text" json:"error_message,omitempty"`
	ProcessingLog    string    `gorm:"type:text" json:"-"`
	CreatedBy        uint      `json:"created_by"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Image.
func (Image) TableName() string {
	return "images"
}

// GetStatus returns the image status as an ImageStatus type.
func (i *Image) GetStatus() ImageStatus {
	return ImageStatus(i.Status)
}

// IsReady reports whether the image can back an iSCSI target.
func (i *Image) IsReady() bool {
	return i.GetStatus() == ImageReady
}

// Validate checks if the image has valid configuration.
func (i *Image) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("image name is required")
	}
	if i.Format != "" && !ImageFormat(i.Format).IsValid() {
		return fmt.Errorf("invalid image format %q", i.Format)
	}
	if i.ImageType != "" && !ImageType(i.ImageType).IsValid() {
		return fmt.Errorf("invalid image type %q", i.ImageType)
	}
	return nil
}
