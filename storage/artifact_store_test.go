package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"drift-benchmark/core/models"
)

func TestSaveArtifactLayout(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	img, err := store.SaveArtifact("item-1", 0, models.ModalityImage, []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("SaveArtifact image: %v", err)
	}
	if img.Ref != "iter0_image.png" {
		t.Errorf("image ref = %q", img.Ref)
	}

	txt, err := store.SaveArtifact("item-1", 1, models.ModalityText, []byte("a red barn"))
	if err != nil {
		t.Fatalf("SaveArtifact text: %v", err)
	}
	if txt.Ref != "iter1_text.txt" {
		t.Errorf("text ref = %q", txt.Ref)
	}
	if txt.Text != "a red barn" {
		t.Errorf("text payload = %q", txt.Text)
	}

	if _, err := os.Stat(filepath.Join(store.Root(), "item-1", "iter0_image.png")); err != nil {
		t.Errorf("payload file missing: %v", err)
	}

	payload, err := store.ReadArtifact("item-1", txt.Ref)
	if err != nil || string(payload) != "a red barn" {
		t.Errorf("ReadArtifact = %q, %v", payload, err)
	}
}

func TestIterationRecordRoundTrip(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	recs := []models.IterationRecord{
		{ItemID: "item-1", IterationIndex: 2, InputRef: "iter1_text.txt", OutputRef: "iter2_image.png", AttemptCount: 3, Status: models.StepSucceeded},
		{ItemID: "item-1", IterationIndex: 1, InputRef: "iter0_image.png", OutputRef: "iter1_text.txt", AttemptCount: 1, Status: models.StepSucceeded},
	}
	for _, rec := range recs {
		rec.StartedAt = time.Now().UTC()
		rec.CompletedAt = time.Now().UTC()
		if err := store.SaveIterationRecord(rec); err != nil {
			t.Fatalf("SaveIterationRecord: %v", err)
		}
	}

	loaded, err := store.LoadIterationRecords("item-1")
	if err != nil {
		t.Fatalf("LoadIterationRecords: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d records, want 2", len(loaded))
	}
	if loaded[0].IterationIndex != 1 || loaded[1].IterationIndex != 2 {
		t.Errorf("records not sorted by index: %+v", loaded)
	}
	if loaded[1].AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", loaded[1].AttemptCount)
	}
}

func TestLoadArtifactsReconstructsSequence(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	if _, err := store.SaveArtifact("item-1", 0, models.ModalityImage, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveArtifact("item-1", 1, models.ModalityText, []byte("caption")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveArtifact("item-1", 2, models.ModalityImage, []byte{2}); err != nil {
		t.Fatal(err)
	}

	artifacts, err := store.LoadArtifacts("item-1")
	if err != nil {
		t.Fatalf("LoadArtifacts: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("loaded %d artifacts, want 3", len(artifacts))
	}
	wantModalities := []models.Modality{models.ModalityImage, models.ModalityText, models.ModalityImage}
	for i, a := range artifacts {
		if a.IterationIndex != i {
			t.Errorf("artifact %d index = %d", i, a.IterationIndex)
		}
		if a.Modality != wantModalities[i] {
			t.Errorf("artifact %d modality = %q, want %q", i, a.Modality, wantModalities[i])
		}
	}
	if artifacts[1].Text != "caption" {
		t.Errorf("text artifact not loaded inline: %+v", artifacts[1])
	}
}

func TestRatingRoundTripAndListItems(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	rec := models.RatingRecord{
		ItemID: "item-2",
		Pair: models.ComparisonPair{
			ItemID:     "item-2",
			Kind:       models.PairIntraImage,
			Anchor:     models.AnchorSeed,
			LeftIndex:  0,
			RightIndex: 2,
			LeftRef:    "iter0_image.png",
			RightRef:   "iter2_image.png",
		},
		Scores: map[string]models.Score{
			"content_correspondence": {Value: 7.5, Justification: "same subject"},
		},
		ComputedAt: time.Now().UTC(),
	}
	if err := store.SaveRating(rec); err != nil {
		t.Fatalf("SaveRating: %v", err)
	}

	ratings, err := store.LoadRatings("item-2")
	if err != nil {
		t.Fatalf("LoadRatings: %v", err)
	}
	if len(ratings) != 1 {
		t.Fatalf("loaded %d ratings, want 1", len(ratings))
	}
	if ratings[0].Pair.Kind != models.PairIntraImage || ratings[0].Scores["content_correspondence"].Value != 7.5 {
		t.Errorf("rating mismatch: %+v", ratings[0])
	}

	items, err := store.ListItems()
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0] != "item-2" {
		t.Errorf("items = %v", items)
	}
}

func TestLocalSeedSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b_seed.png"), []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a_seed.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &LocalSeedSource{Dir: dir}
	seeds, err := src.ListSeeds(context.Background())
	if err != nil {
		t.Fatalf("ListSeeds: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("found %d seeds, want 2", len(seeds))
	}
	if seeds[0].ItemID != "a_seed" || seeds[0].Modality != models.ModalityText {
		t.Errorf("seed 0 = %+v", seeds[0])
	}
	if seeds[1].ItemID != "b_seed" || seeds[1].Modality != models.ModalityImage {
		t.Errorf("seed 1 = %+v", seeds[1])
	}
}
