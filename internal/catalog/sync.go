package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"orderdesk/internal"
	"orderdesk/internal/packaging"
)

// Store is the write side used by the feed sync and the spreadsheet import.
type Store interface {
	UpsertProducts(ctx context.Context, products []internal.CatalogProduct) error
	SetMetadata(ctx context.Context, key, value string) error
}

type feed interface {
	Products(ctx context.Context, tenantID string) ([]internal.CatalogProduct, error)
}

type SyncService struct {
	store  Store
	feed   feed
	logger *zap.Logger
}

func NewSyncService(store Store, client *Client, logger *zap.Logger) *SyncService {
	return &SyncService{store: store, feed: client, logger: logger}
}

type SyncReport struct {
	Fetched  int
	Upserted int
	Rejected int
}

// Sync pulls the whole feed for a tenant and upserts the products that
// satisfy the packaging invariant.
func (s *SyncService) Sync(ctx context.Context, tenantID string) (SyncReport, error) {
	products, err := s.feed.Products(ctx, tenantID)
	if err != nil {
		return SyncReport{}, err
	}

	report := SyncReport{Fetched: len(products)}
	valid := make([]internal.CatalogProduct, 0, len(products))
	for _, p := range products {
		if err := packaging.Validate(p); err != nil {
			report.Rejected++
			s.logger.Warn("skipping feed product", zap.String("tenant", tenantID), zap.String("code", p.Code), zap.Error(err))
			continue
		}
		valid = append(valid, p)
	}

	if len(valid) > 0 {
		if err := s.store.UpsertProducts(ctx, valid); err != nil {
			return report, err
		}
	}
	report.Upserted = len(valid)

	if err := s.store.SetMetadata(ctx, SyncMetadataKey(tenantID), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return report, err
	}
	return report, nil
}

func SyncMetadataKey(tenantID string) string {
	return "catalog.last_sync." + tenantID
}
