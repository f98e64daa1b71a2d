package imaging

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Metadata is the EXIF subset the pipeline reports on uploads. It is
// informational only; nothing downstream branches on it.
type Metadata struct {
	CameraMake  string
	CameraModel string
	DateTaken   time.Time
	HasDate     bool
}

// InspectMetadata extracts camera and date EXIF fields from raw image bytes.
// Best-effort: images without metadata return an empty Metadata, and decode
// failures are surfaced for the caller to downgrade to a warning.
func InspectMetadata(data []byte) (*Metadata, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	meta := &Metadata{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		meta.DateTaken = exifData.DateTimeOriginal()
		meta.HasDate = true
	case !exifData.CreateDate().IsZero():
		meta.DateTaken = exifData.CreateDate()
		meta.HasDate = true
	case !exifData.ModifyDate().IsZero():
		meta.DateTaken = exifData.ModifyDate()
		meta.HasDate = true
	}

	log.Debug().
		Str("camera_make", meta.CameraMake).
		Str("camera_model", meta.CameraModel).
		Bool("has_date", meta.HasDate).
		Msg("Upload metadata inspection complete")

	return meta, nil
}

// Summary renders the metadata as a short human-readable note, or "" when
// nothing useful was extracted.
func (m *Metadata) Summary() string {
	if m == nil {
		return ""
	}
	var parts []string
	if m.CameraMake != "" || m.CameraModel != "" {
		parts = append(parts, strings.TrimSpace(m.CameraMake+" "+m.CameraModel))
	}
	if m.HasDate {
		parts = append(parts, "taken "+m.DateTaken.Format("2006-01-02"))
	}
	return strings.Join(parts, ", ")
}
