// Command seed provisions the baseline dataset: the permission catalog, the
// administrator and customer roles, the default accounts, and a handful of
// demo products. Safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/bodega-pos/bodega/internal/app"
	"github.com/bodega-pos/bodega/internal/authz"
	"github.com/bodega-pos/bodega/internal/platform/db"
	"github.com/bodega-pos/bodega/internal/products"
	"github.com/bodega-pos/bodega/internal/rbac"
	"github.com/bodega-pos/bodega/internal/shared"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	authzCfg := authz.Config{
		AdminRoleKey:   cfg.AdminRoleKey,
		ProtectedCodes: shared.ProtectedAdminPermissions(),
		CacheTTL:       cfg.AuthzCacheTTL,
	}
	repo := rbac.NewRepository(pool)
	service := rbac.NewService(repo, authzCfg, nil, nil, logger)

	if err := run(ctx, logger, pool, service, repo, cfg.AdminRoleKey); err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed complete")
}

func run(ctx context.Context, logger *slog.Logger, pool *pgxpool.Pool, service *rbac.Service, repo rbac.Repository, adminKey string) error {
	if err := service.EnsureCatalog(ctx, shared.PermissionCatalog()); err != nil {
		return err
	}

	adminRole, err := service.EnsureRole(ctx, adminKey, "Administrador", "Acceso completo al sistema")
	if err != nil {
		return err
	}
	clienteRole, err := service.EnsureRole(ctx, "cliente", "Cliente", "Cliente de la tienda")
	if err != nil {
		return err
	}

	var allCodes []string
	for _, entry := range shared.PermissionCatalog() {
		allCodes = append(allCodes, entry.Code)
	}
	if err := service.GrantByCodes(ctx, adminRole.ID, allCodes); err != nil {
		return err
	}
	if err := service.GrantByCodes(ctx, clienteRole.ID, []string{shared.PermProductosVer, shared.PermPedidosCrear}); err != nil {
		return err
	}

	adminID, err := ensureUser(ctx, pool, "admin@bodega.local", "Administrador", "Admin123!")
	if err != nil {
		return err
	}
	if err := repo.ReplaceUserRoles(ctx, adminID, []int64{adminRole.ID}, nil); err != nil {
		return err
	}

	demoID, err := ensureUser(ctx, pool, "cliente@bodega.local", "Cliente Demo", "Cliente123!")
	if err != nil {
		return err
	}
	if err := repo.ReplaceUserRoles(ctx, demoID, []int64{clienteRole.ID}, nil); err != nil {
		return err
	}

	// Demo deny override: the customer role grants PEDIDOS_CREAR, the
	// override takes it away for this one account.
	ids, err := repo.PermissionIDsByCodes(ctx, []string{shared.PermPedidosCrear})
	if err != nil {
		return err
	}
	if permID, ok := ids[shared.PermPedidosCrear]; ok {
		if err := repo.UpsertOverride(ctx, demoID, permID, false); err != nil {
			return err
		}
	}

	if err := seedProducts(ctx, pool); err != nil {
		return err
	}

	logger.Info("seeded accounts",
		slog.String("admin", "admin@bodega.local"),
		slog.String("demo", "cliente@bodega.local"))
	return nil
}

func ensureUser(ctx context.Context, pool *pgxpool.Pool, email, name, password string) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = lower($1)`, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, is_active, security_stamp, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, gen_random_uuid()::text, now(), now())
		RETURNING id`,
		email, name, string(hash)).Scan(&id)
	return id, err
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	demo := []products.Product{
		{SKU: "CAFE-250", Name: "Café molido 250g", Description: "Tueste medio", Price: 5.50, Stock: 120, Visible: true},
		{SKU: "AZUCAR-1K", Name: "Azúcar 1kg", Description: "Azúcar blanca refinada", Price: 1.20, Stock: 300, Visible: true},
		{SKU: "ARROZ-5K", Name: "Arroz 5kg", Description: "Grano largo", Price: 6.80, Stock: 80, Visible: false},
	}
	for _, p := range demo {
		_, err := pool.Exec(ctx, `
			INSERT INTO products (sku, name, description, price, stock, visible, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (sku) DO NOTHING`,
			p.SKU, p.Name, p.Description, p.Price, p.Stock, p.Visible)
		if err != nil {
			return err
		}
	}
	return nil
}
