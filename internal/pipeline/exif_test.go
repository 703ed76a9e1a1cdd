package pipeline

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkwok/photosense/internal/domain"
)

// buildEXIFJPEG splices a hand-assembled EXIF APP1 segment into an encoded
// JPEG. The block carries a capture time of 2023:06:15 10:30:00 and a GPS
// position of 41.9028 N, 12.4964 E.
func buildEXIFJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	var tiff bytes.Buffer
	w16 := func(v uint16) { _ = binary.Write(&tiff, binary.LittleEndian, v) }
	w32 := func(v uint32) { _ = binary.Write(&tiff, binary.LittleEndian, v) }
	entry := func(tag, typ uint16, count, value uint32) {
		w16(tag)
		w16(typ)
		w32(count)
		w32(value)
	}
	rational := func(num, den uint32) { w32(num); w32(den) }

	tiff.WriteString("II")
	w16(0x002A)
	w32(8) // IFD0 offset

	// IFD0: capture time plus a pointer to the GPS sub-IFD. Value offsets
	// are relative to the TIFF header.
	w16(2)
	entry(0x0132, 2, 20, 38) // DateTime, ASCII, data at offset 38
	entry(0x8825, 4, 1, 58)  // GPS IFD pointer
	w32(0)

	tiff.WriteString("2023:06:15 10:30:00\x00")

	// GPS IFD: 41 deg 54' 10.08" N, 12 deg 29' 47.04" E.
	w16(4)
	entry(0x0001, 2, 2, uint32('N'))
	entry(0x0002, 5, 3, 112)
	entry(0x0003, 2, 2, uint32('E'))
	entry(0x0004, 5, 3, 136)
	w32(0)

	rational(41, 1)
	rational(54, 1)
	rational(1008, 100)
	rational(12, 1)
	rational(29, 1)
	rational(4704, 100)

	jpegData := encodeJPEG(t, width, height)

	var out bytes.Buffer
	out.Write(jpegData[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(2+6+tiff.Len()))
	out.WriteString("Exif\x00\x00")
	out.Write(tiff.Bytes())
	out.Write(jpegData[2:])
	return out.Bytes()
}

func TestParseEXIFCaptureData(t *testing.T) {
	meta := parseEXIF(buildEXIFJPEG(t, 80, 60))
	if meta.TakenAt == nil {
		t.Fatal("taken_at not extracted")
	}
	if got := meta.TakenAt.Format("2006:01:02 15:04:05"); got != "2023:06:15 10:30:00" {
		t.Fatalf("taken_at %s, want 2023:06:15 10:30:00", got)
	}
	if meta.Latitude == nil || meta.Longitude == nil {
		t.Fatal("GPS position not extracted")
	}
	if math.Abs(*meta.Latitude-41.9028) > 1e-3 || math.Abs(*meta.Longitude-12.4964) > 1e-3 {
		t.Fatalf("position (%f, %f), want (41.9028, 12.4964)", *meta.Latitude, *meta.Longitude)
	}
}

func TestParseEXIFMissingBlock(t *testing.T) {
	meta := parseEXIF(encodeJPEG(t, 40, 30))
	if meta.TakenAt != nil || meta.Latitude != nil || meta.Longitude != nil {
		t.Fatalf("plain JPEG produced metadata: %+v", meta)
	}
}

// The instant tier persists EXIF capture data onto the photo row without
// touching any model endpoint.
func TestInstantTierPersistsEXIF(t *testing.T) {
	f := newFixture(t)
	photo := f.seedPhoto(t, uuid.New().String(), buildEXIFJPEG(t, 80, 60))

	job := f.runJob(t, photo.ID, domain.TierInstant, "")
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status %s, want completed", job.Status)
	}
	if len(f.vlm.models) != 0 {
		t.Fatalf("instant tier invoked models %v", f.vlm.models)
	}

	got := f.reloadPhoto(t, photo.ID)
	if got.TakenAt == nil {
		t.Fatal("taken_at not persisted")
	}
	// The EXIF wall clock is parsed in the local zone; compare instants so
	// the database round trip is free to normalize the zone.
	want := time.Date(2023, 6, 15, 10, 30, 0, 0, time.Local)
	if !got.TakenAt.Equal(want) {
		t.Fatalf("taken_at %v, want %v", got.TakenAt, want)
	}
	if got.Latitude == nil || got.Longitude == nil {
		t.Fatal("GPS position not persisted")
	}
	if math.Abs(*got.Latitude-41.9028) > 1e-3 || math.Abs(*got.Longitude-12.4964) > 1e-3 {
		t.Fatalf("position (%f, %f), want (41.9028, 12.4964)", *got.Latitude, *got.Longitude)
	}
}
