package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/domain"
	"github.com/jkwok/photosense/internal/geometry"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/repository"
)

func newTestFaceService(t *testing.T) (*FaceService, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	log := logger.New(&logger.Config{Level: "error"})
	return NewFaceService(repository.NewFaceRepository(db), repository.NewPhotoRepository(db), log), db
}

func TestAddManualFaceCreatesPersonByName(t *testing.T) {
	svc, db := newTestFaceService(t)
	seedPhoto(t, db, "p1", nil)
	ctx := context.Background()

	face, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 100, Y: 200, Width: 300, Height: 300}, "", "Alice")
	if err != nil {
		t.Fatalf("AddManualFace: %v", err)
	}
	if face.Origin != domain.FaceOriginManual {
		t.Errorf("origin = %s, want manual", face.Origin)
	}
	if face.PersonID == "" {
		t.Fatal("face not bound to the new person")
	}

	var person domain.Person
	if err := db.First(&person, "id = ?", face.PersonID).Error; err != nil {
		t.Fatalf("person row missing: %v", err)
	}
	if person.Name != "Alice" || person.FaceCount != 1 {
		t.Errorf("person = %+v", person)
	}

	// Second face for the same name reuses the person.
	face2, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 500, Y: 200, Width: 200, Height: 200}, "", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if face2.PersonID != face.PersonID {
		t.Error("same name must resolve to the same person")
	}

	var photo domain.Photo
	if err := db.First(&photo, "id = ?", "p1").Error; err != nil {
		t.Fatal(err)
	}
	if !photo.HasFaces {
		t.Error("has_faces not flipped by manual face creation")
	}
}

func TestAddManualFaceRejectsOutOfBounds(t *testing.T) {
	svc, db := newTestFaceService(t)
	seedPhoto(t, db, "p1", nil) // 4000x3000
	ctx := context.Background()

	_, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 3900, Y: 100, Width: 500, Height: 300}, "", "")
	if err != ErrInvalidBounds {
		t.Errorf("err = %v, want ErrInvalidBounds", err)
	}

	// One pixel of overhang is display-space rounding, clamp instead.
	face, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 3700, Y: 100, Width: 301, Height: 300}, "", "")
	if err != nil {
		t.Fatalf("rounding overhang rejected: %v", err)
	}
	if face.X+face.Width > 4000 {
		t.Errorf("clamped box still out of bounds: %+v", face)
	}
}

func TestLabelFaceRelabelsAndCleansOrphan(t *testing.T) {
	svc, db := newTestFaceService(t)
	seedPhoto(t, db, "p1", nil)
	ctx := context.Background()

	face, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 10, Y: 10, Width: 100, Height: 100}, "", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	alice := face.PersonID

	relabeled, err := svc.LabelFace(ctx, face.ID, "", "Bob")
	if err != nil {
		t.Fatalf("LabelFace: %v", err)
	}
	if relabeled.ID != face.ID {
		t.Error("relabel must keep the face row")
	}
	if relabeled.PersonID == alice || relabeled.PersonID == "" {
		t.Errorf("face still bound to old person: %+v", relabeled)
	}

	// Alice had a single face; relabeling orphaned and removed her.
	var count int64
	if err := db.Model(&domain.Person{}).Where("id = ?", alice).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("orphaned person not cleaned up")
	}
}

func TestRemoveFaceClearsHasFaces(t *testing.T) {
	svc, db := newTestFaceService(t)
	seedPhoto(t, db, "p1", nil)
	ctx := context.Background()

	face, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 10, Y: 10, Width: 100, Height: 100}, "", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.RemoveFace(ctx, face.ID); err != nil {
		t.Fatalf("RemoveFace: %v", err)
	}

	var photo domain.Photo
	if err := db.First(&photo, "id = ?", "p1").Error; err != nil {
		t.Fatal(err)
	}
	if photo.HasFaces {
		t.Error("has_faces must clear when the last face is removed")
	}

	var persons int64
	if err := db.Model(&domain.Person{}).Count(&persons).Error; err != nil {
		t.Fatal(err)
	}
	if persons != 0 {
		t.Error("person with zero faces must be removed")
	}
}

func TestListPersonsPhotoCounts(t *testing.T) {
	svc, db := newTestFaceService(t)
	seedPhoto(t, db, "p1", nil)
	seedPhoto(t, db, "p2", nil)
	ctx := context.Background()

	if _, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 10, Y: 10, Width: 50, Height: 50}, "", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddManualFace(ctx, "p2", geometry.Rect{X: 10, Y: 10, Width: 50, Height: 50}, "", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 100, Y: 10, Width: 50, Height: 50}, "", "Bob"); err != nil {
		t.Fatal(err)
	}

	summaries, err := svc.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d persons, want 2", len(summaries))
	}
	if summaries[0].Name != "Alice" || summaries[0].PhotoCount != 2 || summaries[0].FaceCount != 2 {
		t.Errorf("alice summary = %+v", summaries[0])
	}
	if summaries[1].Name != "Bob" || summaries[1].PhotoCount != 1 {
		t.Errorf("bob summary = %+v", summaries[1])
	}
}

// A photo id that resolves to no row must surface as a not-found error,
// never as a bare database error the handlers would turn into a 500.
func TestFaceOpsOnUnknownPhoto(t *testing.T) {
	svc, _ := newTestFaceService(t)
	ctx := context.Background()

	if _, err := svc.ListFaces(ctx, "no-such-photo"); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("ListFaces err = %v, want ErrPhotoNotFound", err)
	}
	box := geometry.Rect{X: 10, Y: 10, Width: 50, Height: 50}
	if _, err := svc.AddManualFace(ctx, "no-such-photo", box, "", "Alice"); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("AddManualFace err = %v, want ErrPhotoNotFound", err)
	}
}

func TestPersonFaces(t *testing.T) {
	svc, db := newTestFaceService(t)
	seedPhoto(t, db, "p1", nil)
	seedPhoto(t, db, "p2", nil)
	ctx := context.Background()

	first, err := svc.AddManualFace(ctx, "p1", geometry.Rect{X: 10, Y: 10, Width: 50, Height: 50}, "", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddManualFace(ctx, "p2", geometry.Rect{X: 20, Y: 20, Width: 50, Height: 50}, "", "Alice"); err != nil {
		t.Fatal(err)
	}

	faces, err := svc.PersonFaces(ctx, first.PersonID)
	if err != nil {
		t.Fatalf("PersonFaces: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("got %d faces, want 2 across both photos", len(faces))
	}

	if _, err := svc.PersonFaces(ctx, "no-such-person"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("err = %v, want ErrPersonNotFound", err)
	}
}
