package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bodega-pos/bodega/internal/shared"
)

// EnsureCatalog seeds missing permission catalog entries. Deduplication is
// case-insensitive so re-seeding with differently cased codes never creates
// near-duplicates; stored codes keep their original casing.
func (s *Service) EnsureCatalog(ctx context.Context, entries []shared.CatalogEntry) error {
	existing, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		seen[strings.ToUpper(p.Code)] = struct{}{}
	}
	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return validationf("code", "permission code required")
		}
		if _, ok := seen[strings.ToUpper(code)]; ok {
			continue
		}
		if _, err := s.repo.CreatePermission(ctx, code, strings.TrimSpace(entry.Description)); err != nil {
			// Concurrent seeding may race the unique index; treat as present.
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return err
		}
		seen[strings.ToUpper(code)] = struct{}{}
		if s.logger != nil {
			s.logger.Info("seeded permission", slog.String("code", code))
		}
	}
	return nil
}

// EnsureRole creates the role when the key is not present yet.
func (s *Service) EnsureRole(ctx context.Context, key, name, description string) (Role, error) {
	role, err := s.repo.GetRoleByKey(ctx, key)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Role{}, err
	}
	role, err = s.repo.CreateRole(ctx, key, name, description)
	if err != nil {
		return Role{}, err
	}
	if s.logger != nil {
		s.logger.Info("seeded role", slog.String("key", key))
	}
	return role, nil
}

// GrantByCodes ensures the role holds grants for every listed code. Unknown
// codes fail with a ValidationError naming them so seed mistakes surface.
func (s *Service) GrantByCodes(ctx context.Context, roleID int64, codes []string) error {
	ids, err := s.repo.PermissionIDsByCodes(ctx, codes)
	if err != nil {
		return err
	}
	var add []int64
	for _, code := range codes {
		id, ok := ids[code]
		if !ok {
			return validationf("codes", "permission %s is not in the catalog", code)
		}
		add = append(add, id)
	}
	return s.repo.ReplaceRolePermissions(ctx, roleID, add, nil)
}
