package products_test

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bodega-pos/bodega/internal/products"
	"github.com/bodega-pos/bodega/internal/shared"
	_ "github.com/bodega-pos/bodega/testing"
)

type memRepo struct {
	nextID int64
	items  map[int64]products.Product
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[int64]products.Product)}
}

func (m *memRepo) List(ctx context.Context, filters products.ListFilters) ([]products.Product, int, error) {
	var out []products.Product
	for _, p := range m.items {
		if filters.VisibleOnly && !p.Visible {
			continue
		}
		if s := strings.TrimSpace(filters.Search); s != "" {
			if !strings.Contains(strings.ToLower(p.Name), strings.ToLower(s)) &&
				!strings.Contains(strings.ToLower(p.SKU), strings.ToLower(s)) {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if filters.PerPage > 0 {
		start := (filters.Page - 1) * filters.PerPage
		if start > len(out) {
			start = len(out)
		}
		end := start + filters.PerPage
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (products.Product, error) {
	p, ok := m.items[id]
	if !ok {
		return products.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) Create(ctx context.Context, p products.Product) (products.Product, error) {
	for _, existing := range m.items {
		if existing.SKU == p.SKU {
			return products.Product{}, products.ErrDuplicateSKU
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = p
	return p, nil
}

func (m *memRepo) Update(ctx context.Context, p products.Product) (products.Product, error) {
	existing, ok := m.items[p.ID]
	if !ok {
		return products.Product{}, shared.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	m.items[p.ID] = p
	return p, nil
}

func (m *memRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memRepo) SetVisible(ctx context.Context, id int64, visible bool) error {
	p, ok := m.items[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Visible = visible
	m.items[id] = p
	return nil
}

var _ products.Repository = (*memRepo)(nil)

func TestCreateNormalizesAndValidates(t *testing.T) {
	svc := products.NewService(newMemRepo(), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, products.Product{SKU: " cafe-250 ", Name: "  Café molido 250g ", Price: 5.5, Stock: 10})
	require.NoError(t, err)
	require.Equal(t, "CAFE-250", created.SKU)
	require.Equal(t, "Café molido 250g", created.Name)

	cases := []products.Product{
		{Name: "sin sku", Price: 1},
		{SKU: "X-1", Price: 1},
		{SKU: "X-1", Name: "negativo", Price: -1},
		{SKU: "X-1", Name: "negativo", Stock: -5},
	}
	for i, p := range cases {
		_, err := svc.Create(ctx, p)
		require.Errorf(t, err, "case %d: invalid product must be rejected", i)
	}
}

func TestCreateDuplicateSKU(t *testing.T) {
	svc := products.NewService(newMemRepo(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, products.Product{SKU: "CAFE-250", Name: "Café", Price: 5})
	require.NoError(t, err)

	_, err = svc.Create(ctx, products.Product{SKU: "cafe-250", Name: "Otro café", Price: 6})
	require.ErrorIs(t, err, products.ErrDuplicateSKU)
}

func TestListVisibleFiltersHiddenProducts(t *testing.T) {
	svc := products.NewService(newMemRepo(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, products.Product{SKU: "A-1", Name: "Visible", Price: 1, Visible: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, products.Product{SKU: "B-1", Name: "Oculto", Price: 1})
	require.NoError(t, err)

	all, pagination, err := svc.List(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 2, pagination.Total)
	require.Equal(t, 1, pagination.Page)

	visible, pagination, err := svc.ListVisible(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "A-1", visible[0].SKU)
	require.Equal(t, 1, pagination.Total)
}

func TestListPaginates(t *testing.T) {
	svc := products.NewService(newMemRepo(), nil)
	ctx := context.Background()

	for _, sku := range []string{"A-1", "A-2", "A-3"} {
		_, err := svc.Create(ctx, products.Product{SKU: sku, Name: "Producto " + sku, Price: 1})
		require.NoError(t, err)
	}

	page, pagination, err := svc.List(ctx, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "A-1", page[0].SKU, "second page of size 2 holds the oldest product")
	require.Equal(t, 3, pagination.Total)
	require.Equal(t, 2, pagination.TotalPages)
	require.Equal(t, 2, pagination.Page)
}

func TestToggleVisible(t *testing.T) {
	svc := products.NewService(newMemRepo(), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, products.Product{SKU: "A-1", Name: "Producto", Price: 1})
	require.NoError(t, err)

	visible, err := svc.ToggleVisible(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, visible)

	visible, err = svc.ToggleVisible(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, visible)

	_, err = svc.ToggleVisible(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateRequiresID(t *testing.T) {
	svc := products.NewService(newMemRepo(), nil)

	_, err := svc.Update(context.Background(), products.Product{SKU: "A-1", Name: "X", Price: 1})
	require.Error(t, err)
}
