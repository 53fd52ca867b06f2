package s3

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// ListSnapshots lists one wallet's archived results, oldest first.
// Keys that do not parse as snapshots are skipped.
func (a *Archive) ListSnapshots(ctx context.Context, chainCode string, walletID uuid.UUID) ([]outbound.ArchivedSnapshot, error) {
	prefix := a.walletPrefix(chainCode, walletID.String())
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.config.Bucket),
		Prefix: aws.String(prefix),
	})

	var out []outbound.ArchivedSnapshot
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			syncedAt, ok := parseKeyTime(*obj.Key)
			if !ok {
				continue
			}
			out = append(out, outbound.ArchivedSnapshot{
				Key:      *obj.Key,
				Size:     aws.ToInt64(obj.Size),
				SyncedAt: syncedAt,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SyncedAt.Before(out[j].SyncedAt) })
	a.logger.Debug("listed snapshots", "prefix", prefix, "count", len(out))
	return out, nil
}

// LoadSnapshot fetches and decodes one archived result.
func (a *Archive) LoadSnapshot(ctx context.Context, key string) (*entity.AggregateResult, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	obj, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", key, err)
	}

	gz, err := gzip.NewReader(obj.Body)
	if err != nil {
		obj.Body.Close()
		return nil, fmt.Errorf("failed to create gzip reader for %s: %w", key, err)
	}
	data, err := readAll(&gzipReadCloser{gzReader: gz, body: obj.Body})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	var result entity.AggregateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &result, nil
}

// gzipReadCloser wraps a gzip reader and the underlying body for proper cleanup.
type gzipReadCloser struct {
	gzReader *gzip.Reader
	body     io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.gzReader.Read(p)
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.gzReader.Close()
	bodyErr := g.body.Close()
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}
