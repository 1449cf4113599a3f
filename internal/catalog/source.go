package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-pos/internal/money"
)

// Source resolves products by id.
type Source interface {
	Product(ctx context.Context, id string) (Product, error)
}

// StaticSource serves products from memory.
type StaticSource struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewStaticSource builds a source from already validated products.
func NewStaticSource(products ...Product) *StaticSource {
	s := &StaticSource{products: make(map[string]Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p.Snapshot()
	}
	return s
}

// Put replaces the product stored under p.ID.
func (s *StaticSource) Put(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p.Snapshot()
}

// Product implements Source.
func (s *StaticSource) Product(_ context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p.Snapshot(), nil
}

// RowQuerier is the subset of pgx used to read products.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectProduct = `SELECT id, name, base_price::text, modifier_options, allows_modifications
FROM products
WHERE id = $1`

// PGSource reads products from the catalog's Postgres table.
type PGSource struct {
	DB RowQuerier
}

// Product implements Source.
func (s PGSource) Product(ctx context.Context, id string) (Product, error) {
	if s.DB == nil {
		return Product{}, errors.New("catalog source not configured")
	}
	var (
		rec       Record
		basePrice string
		options   []byte
	)
	err := s.DB.QueryRow(ctx, selectProduct, id).Scan(&rec.ID, &rec.Name, &basePrice, &options, &rec.AllowsModifications)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("query product: %w", err)
	}
	rec.BasePrice, err = money.Parse(basePrice)
	if err != nil {
		return Product{}, fmt.Errorf("product %s base price: %w", id, ErrInvalidRecord)
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &rec.ModifierOptions); err != nil {
			return Product{}, fmt.Errorf("product %s modifier options: %w", id, ErrInvalidRecord)
		}
	}
	return FromRecord(rec)
}
