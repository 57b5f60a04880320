package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"drift-benchmark/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Seed is one initial artifact supplied to a run
type Seed struct {
	ItemID   string
	Modality models.Modality
	Payload  []byte
}

// SeedSource supplies the initial artifacts for a run
type SeedSource interface {
	ListSeeds(ctx context.Context) ([]Seed, error)
}

// OpenSeedSource resolves a seed URI to a source implementation.
// s3://bucket/prefix uses the S3 source, anything else is a local directory.
func OpenSeedSource(ctx context.Context, uri string) (SeedSource, error) {
	if strings.HasPrefix(uri, "s3://") {
		return NewS3SeedSource(ctx, uri)
	}
	return &LocalSeedSource{Dir: uri}, nil
}

// LocalSeedSource reads seed artifacts from a local directory.
// Images are .png/.jpg/.jpeg files, texts are .txt files; the file stem
// becomes the item ID.
type LocalSeedSource struct {
	Dir string
}

// ListSeeds returns the seeds found in the directory, sorted by item ID
func (l *LocalSeedSource) ListSeeds(ctx context.Context) ([]Seed, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("read seed directory: %w", err)
	}

	var seeds []Seed
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		modality, ok := seedModalityForName(entry.Name())
		if !ok {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(l.Dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", entry.Name(), err)
		}
		seeds = append(seeds, Seed{
			ItemID:   itemIDForName(entry.Name()),
			Modality: modality,
			Payload:  payload,
		})
	}

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].ItemID < seeds[j].ItemID })
	return seeds, nil
}

// S3SeedSource reads seed artifacts from an S3 bucket prefix
type S3SeedSource struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3SeedSource creates a seed source for an s3://bucket/prefix URI
func NewS3SeedSource(ctx context.Context, uri string) (*S3SeedSource, error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid s3 seed uri: %s", uri)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3SeedSource{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// ListSeeds lists and downloads the seeds under the bucket prefix
func (s *S3SeedSource) ListSeeds(ctx context.Context) ([]Seed, error) {
	var seeds []Seed
	var continuation *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3 seeds: %w", err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			modality, ok := seedModalityForName(key)
			if !ok {
				continue
			}
			payload, err := s.download(ctx, key)
			if err != nil {
				return nil, err
			}
			seeds = append(seeds, Seed{
				ItemID:   itemIDForName(key),
				Modality: modality,
				Payload:  payload,
			})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].ItemID < seeds[j].ItemID })
	return seeds, nil
}

func (s *S3SeedSource) download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 seed %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func seedModalityForName(name string) (models.Modality, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return models.ModalityImage, true
	case ".txt":
		return models.ModalityText, true
	}
	return "", false
}

func itemIDForName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
