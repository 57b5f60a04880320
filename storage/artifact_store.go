package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"drift-benchmark/core/models"
)

const (
	iterationsDirName = "iterations"
	evalDirName       = "eval"
)

// ArtifactStore is the append-only on-disk record of every generated
// artifact plus its iteration metadata and ratings. Layout per run:
//
//	<root>/<itemID>/iter{N}_{modality}.{png|txt}
//	<root>/<itemID>/iterations/iter{N}.json
//	<root>/<itemID>/eval/<pair>.json
//	<root>/metadata.json, summary.json, config_snapshot.yaml
//
// Writes are per-item-scoped so no cross-item locking is needed.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates (if needed) and opens a store rooted at dir
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact store root required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store root: %w", err)
	}
	return &ArtifactStore{root: dir}, nil
}

// Root returns the store's root directory
func (s *ArtifactStore) Root() string { return s.root }

// ItemDir returns the directory holding one item's artifacts
func (s *ArtifactStore) ItemDir(itemID string) string {
	return filepath.Join(s.root, itemID)
}

// ArtifactFileName returns the canonical payload file name for an artifact
func ArtifactFileName(index int, modality models.Modality) string {
	ext := "txt"
	if modality == models.ModalityImage {
		ext = "png"
	}
	return fmt.Sprintf("iter%d_%s.%s", index, modality, ext)
}

// parseArtifactFileName is the inverse of ArtifactFileName
func parseArtifactFileName(name string) (index int, modality models.Modality, ok bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var mod string
	if _, err := fmt.Sscanf(base, "iter%d_%s", &index, &mod); err != nil {
		return 0, "", false
	}
	switch models.Modality(mod) {
	case models.ModalityImage, models.ModalityText:
		return index, models.Modality(mod), true
	}
	return 0, "", false
}

// SaveArtifact persists an artifact payload and returns the stored
// artifact with its Ref set to the payload file name
func (s *ArtifactStore) SaveArtifact(itemID string, index int, modality models.Modality, payload []byte) (models.Artifact, error) {
	name := ArtifactFileName(index, modality)
	dir := s.ItemDir(itemID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Artifact{}, fmt.Errorf("create item directory: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, name), payload, 0o644); err != nil {
		return models.Artifact{}, fmt.Errorf("write artifact %s/%s: %w", itemID, name, err)
	}

	a := models.Artifact{
		ItemID:         itemID,
		IterationIndex: index,
		Modality:       modality,
		Ref:            name,
		CreatedAt:      time.Now().UTC(),
	}
	if modality == models.ModalityText {
		a.Text = string(payload)
	}
	return a, nil
}

// ReadArtifact returns the payload bytes for a stored artifact
func (s *ArtifactStore) ReadArtifact(itemID, ref string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.ItemDir(itemID), ref))
}

// SaveIterationRecord persists the metadata record for one loop step
func (s *ArtifactStore) SaveIterationRecord(rec models.IterationRecord) error {
	dir := filepath.Join(s.ItemDir(rec.ItemID), iterationsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create iterations directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal iteration record: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, fmt.Sprintf("iter%d.json", rec.IterationIndex))
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write iteration record: %w", err)
	}
	return nil
}

// LoadIterationRecords returns an item's iteration records sorted by index
func (s *ArtifactStore) LoadIterationRecords(itemID string) ([]models.IterationRecord, error) {
	dir := filepath.Join(s.ItemDir(itemID), iterationsDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []models.IterationRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec models.IterationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode iteration record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].IterationIndex < records[j].IterationIndex
	})
	return records, nil
}

// LoadArtifacts reconstructs an item's artifact sequence from payload
// files, sorted by iteration index. Text payloads are loaded inline.
func (s *ArtifactStore) LoadArtifacts(itemID string) ([]models.Artifact, error) {
	dir := s.ItemDir(itemID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var artifacts []models.Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, modality, ok := parseArtifactFileName(entry.Name())
		if !ok {
			continue
		}
		a := models.Artifact{
			ItemID:         itemID,
			IterationIndex: index,
			Modality:       modality,
			Ref:            entry.Name(),
		}
		if info, err := entry.Info(); err == nil {
			a.CreatedAt = info.ModTime().UTC()
		}
		if modality == models.ModalityText {
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			a.Text = string(data)
		}
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].IterationIndex < artifacts[j].IterationIndex
	})
	return artifacts, nil
}

// SaveRating persists one rating record under the item's eval directory
func (s *ArtifactStore) SaveRating(rec models.RatingRecord) error {
	dir := filepath.Join(s.ItemDir(rec.ItemID), evalDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create eval directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rating record: %w", err)
	}
	data = append(data, '\n')

	name := fmt.Sprintf("%s_%s_%d-%d.json", rec.Pair.Kind, rec.Pair.Anchor, rec.Pair.LeftIndex, rec.Pair.RightIndex)
	if err := atomicWriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write rating record: %w", err)
	}
	return nil
}

// LoadRatings returns all rating records for an item
func (s *ArtifactStore) LoadRatings(itemID string) ([]models.RatingRecord, error) {
	dir := filepath.Join(s.ItemDir(itemID), evalDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []models.RatingRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec models.RatingRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode rating record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListItems returns the item IDs present in the store
func (s *ArtifactStore) ListItems() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var items []string
	for _, entry := range entries {
		if entry.IsDir() {
			items = append(items, entry.Name())
		}
	}
	sort.Strings(items)
	return items, nil
}

// WriteJSON writes a run-level JSON document (metadata.json, summary.json)
func (s *ArtifactStore) WriteJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := atomicWriteFile(filepath.Join(s.root, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteConfigSnapshot saves the raw spec YAML alongside the run outputs
func (s *ArtifactStore) WriteConfigSnapshot(specYAML string) error {
	return atomicWriteFile(filepath.Join(s.root, "config_snapshot.yaml"), []byte(specYAML), 0o644)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%s.*", filepath.Base(path)))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	cleanup = false
	return nil
}
