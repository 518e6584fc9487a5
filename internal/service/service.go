package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"retailcore/backoffice/internal/cache"
	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/notify"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/tax"
	"retailcore/backoffice/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carries the stock-policy switches. Both default to off; the flags
// exist so a deployment can opt in without code changes.
type Options struct {
	AllowNegativeStock bool
	AllowBackorder     bool
}

type Service struct {
	repo     store.Repository
	taxCalc  tax.Calculator
	products cache.ProductCache
	notifier *notify.Registry
	opts     Options
}

func New(repo store.Repository, taxCalc tax.Calculator, products cache.ProductCache, notifier *notify.Registry, opts Options) *Service {
	if taxCalc == nil {
		taxCalc = tax.FlatRate{}
	}
	if products == nil {
		products = cache.Noop{}
	}
	if notifier == nil {
		notifier = notify.NewRegistry()
	}
	return &Service{
		repo:     repo,
		taxCalc:  taxCalc,
		products: products,
		notifier: notifier,
		opts:     opts,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID == "" {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated actor", store.ErrValidation)
	}
	return actor, nil
}

func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	product.TenantID = actor.TenantID
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.IsActive = true

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s", created.SKU))
	return created, nil
}

// GetProduct reads through the product cache.
func (s *Service) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.products.Get(ctx, actor.TenantID, productID); ok {
		return cached, nil
	}
	product, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
	if err != nil {
		return nil, err
	}
	s.products.Set(ctx, *product)
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.TenantID)
}

func (s *Service) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	supplier.TenantID = actor.TenantID
	supplier.IsActive = true
	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, "")
	return created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, actor.TenantID)
}

func (s *Service) CreateLocation(ctx context.Context, location domain.Location) (*domain.Location, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	location.TenantID = actor.TenantID
	location.IsActive = true
	created, err := s.repo.CreateLocation(ctx, location)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "location_create", "location", created.ID, "")
	return created, nil
}

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLocations(ctx, actor.TenantID)
}

func (s *Service) GetInventoryItem(ctx context.Context, productID, locationID string) (*domain.InventoryItem, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetInventoryItem(ctx, actor.TenantID, productID, locationID)
}

func (s *Service) ListInventoryTransactions(ctx context.Context, productID, locationID string, limit int) ([]domain.InventoryTransaction, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInventoryTransactions(ctx, actor.TenantID, productID, locationID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, actor.TenantID, limit)
}

// logAudit records an audit row without failing the caller. Audit writes
// never break a business operation.
func (s *Service) logAudit(ctx context.Context, action, entityType, entityID, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("aud"),
		TenantID:   actor.TenantID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity_id", entityID).Msg("audit log write failed")
	}
}
