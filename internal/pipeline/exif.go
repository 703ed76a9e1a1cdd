package pipeline

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/jkwok/photosense/internal/domain"
)

// EXIFData is the subset of camera metadata the instant tier persists onto
// the Photo row.
type EXIFData struct {
	TakenAt   *time.Time
	Latitude  *float64
	Longitude *float64
	Camera    domain.JSONMap
}

// parseEXIF extracts capture time, GPS position, and camera fields from an
// image's EXIF block. Photos without EXIF (screenshots, stripped exports)
// return an empty result, not an error: missing metadata is normal.
func parseEXIF(imageData []byte) *EXIFData {
	result := &EXIFData{Camera: domain.JSONMap{}}

	x, err := exif.Decode(bytes.NewReader(imageData))
	if err != nil {
		return result
	}

	if taken, err := x.DateTime(); err == nil {
		result.TakenAt = &taken
	}

	if lat, long, err := x.LatLong(); err == nil {
		result.Latitude = &lat
		result.Longitude = &long
	}

	stringFields := map[string]exif.FieldName{
		"make":          exif.Make,
		"model":         exif.Model,
		"lens_model":    exif.LensModel,
		"software":      exif.Software,
		"exposure_time": exif.ExposureTime,
		"f_number":      exif.FNumber,
		"iso":           exif.ISOSpeedRatings,
		"focal_length":  exif.FocalLength,
		"orientation":   exif.Orientation,
	}
	for key, field := range stringFields {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		if value, err := tag.StringVal(); err == nil {
			result.Camera[key] = value
		} else {
			result.Camera[key] = tag.String()
		}
	}

	return result
}
