package postgres

import (
	"context"
	"strings"
	"time"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/xid"
)

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	if product.TenantID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.BasePrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, sku, name, base_price, is_active, is_stock_tracked, is_serialized, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.TenantID, product.SKU, product.Name, product.BasePrice,
		product.IsActive, product.IsStockTracked, product.IsSerialized, product.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, sku, name, base_price, is_active, is_stock_tracked, is_serialized, created_at
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID).Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.BasePrice,
		&p.IsActive, &p.IsStockTracked, &p.IsSerialized, &p.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sku, name, base_price, is_active, is_stock_tracked, is_serialized, created_at
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, productIDs)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	products := make(map[string]domain.Product, len(productIDs))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.BasePrice,
			&p.IsActive, &p.IsStockTracked, &p.IsSerialized, &p.CreatedAt); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sku, name, base_price, is_active, is_stock_tracked, is_serialized, created_at
		FROM products
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.BasePrice,
			&p.IsActive, &p.IsStockTracked, &p.IsSerialized, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.Phone = strings.TrimSpace(supplier.Phone)
	if supplier.TenantID == "" || supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, tenant_id, name, phone, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.TenantID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.IsActive, supplier.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	saved := supplier
	return &saved, nil
}

func (s *Store) GetSupplier(ctx context.Context, tenantID, supplierID string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), is_active, created_at
		FROM suppliers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, supplierID).Scan(&sup.ID, &sup.TenantID, &sup.Name, &sup.Phone, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), is_active, created_at
		FROM suppliers
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 64)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Name, &sup.Phone, &sup.IsActive, &sup.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreateLocation(ctx context.Context, location domain.Location) (*domain.Location, error) {
	location.Name = strings.TrimSpace(location.Name)
	if location.TenantID == "" || location.Name == "" {
		return nil, store.ErrValidation
	}
	if location.ID == "" {
		location.ID = xid.New("loc")
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, tenant_id, name, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, location.ID, location.TenantID, location.Name, location.IsActive, location.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	saved := location
	return &saved, nil
}

func (s *Store) GetLocation(ctx context.Context, tenantID, locationID string) (*domain.Location, error) {
	var loc domain.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, is_active, created_at
		FROM locations
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, locationID).Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.IsActive, &loc.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &loc, nil
}

func (s *Store) ListLocations(ctx context.Context, tenantID string) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, is_active, created_at
		FROM locations
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	locations := make([]domain.Location, 0, 16)
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.IsActive, &loc.CreatedAt); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" || user.Password == "" || user.TenantID == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, tenant_id, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Username, user.Password, user.TenantID, user.Role, user.Active, user.CreatedAt)
	return translateError(err)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, tenant_id, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.Password, &user.TenantID, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorID, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, nullIfEmpty(entry.Detail), entry.CreatedAt)
	return translateError(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, COALESCE(detail,''), created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorID, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
