package service

import (
	"context"
	"fmt"
	"time"

	"sambatan-service/internal/models"
	"sambatan-service/internal/redisclient"
	"sambatan-service/internal/store"
	"sambatan-service/internal/util"

	"go.uber.org/zap"
)

const offeringCacheTTL = 5 * time.Minute

// CatalogClient reads the external offering catalog: the store holds the read
// model, Redis fronts it. This core never writes catalog inventory; it emits
// fulfillment events that the catalog system reconciles on its own.
type CatalogClient struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(store *store.Store, redis *redisclient.Client) *CatalogClient {
	return &CatalogClient{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// Offering retrieves an offering, Redis first with DB fallback
func (cc *CatalogClient) Offering(ctx context.Context, offeringID string) (*models.Offering, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.Offering")
	defer span.End()

	var cached models.Offering
	found, err := cc.redis.GetCachedOffering(ctx, offeringID, &cached)
	if err != nil {
		cc.logger.Warn("Offering cache read failed, falling back to DB",
			zap.String("offering_id", offeringID),
			zap.Error(err))
	}
	if found {
		return &cached, nil
	}

	offering, err := cc.store.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}

	if err := cc.redis.CacheOffering(ctx, offeringID, offering, offeringCacheTTL); err != nil {
		cc.logger.Warn("Failed to cache offering",
			zap.String("offering_id", offeringID),
			zap.Error(err))
	}
	return offering, nil
}

// Offerings retrieves the full catalog read model
func (cc *CatalogClient) Offerings(ctx context.Context) ([]models.Offering, error) {
	return cc.store.GetOfferings(ctx)
}

// CheckAvailability vets a buyer's allocation against the offering's
// per-buyer bounds. The external inventory system gets the final say through
// its own reconciliation of fulfillment events.
func (cc *CatalogClient) CheckAvailability(ctx context.Context, offeringID, buyerID string, qty int) error {
	offering, err := cc.Offering(ctx, offeringID)
	if err != nil {
		return err
	}
	if offering.MaxPerBuyer > 0 && qty > offering.MaxPerBuyer {
		return fmt.Errorf("buyer %s over per-buyer limit for offering %s: %d > %d",
			buyerID, offeringID, qty, offering.MaxPerBuyer)
	}
	return nil
}
