package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/backend-pos/internal/catalog"
)

const upsertProduct = `INSERT INTO products (id, name, base_price, modifier_options, allows_modifications)
VALUES ($1, $2, $3::numeric, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    base_price = EXCLUDED.base_price,
    modifier_options = EXCLUDED.modifier_options,
    allows_modifications = EXCLUDED.allows_modifications,
    updated_at = now()`

// ProductWriter maintains the products table read by catalog.PGSource.
type ProductWriter struct {
	DB Execer
}

// Upsert validates rec and inserts or replaces the stored product.
func (w ProductWriter) Upsert(ctx context.Context, rec catalog.Record) error {
	if w.DB == nil {
		return ErrNotConfigured
	}
	product, err := catalog.FromRecord(rec)
	if err != nil {
		return err
	}
	var options []byte
	if len(rec.ModifierOptions) > 0 {
		if options, err = json.Marshal(rec.ModifierOptions); err != nil {
			return fmt.Errorf("encode modifier options: %w", err)
		}
	}
	if _, err := w.DB.Exec(ctx, upsertProduct,
		product.ID,
		product.Name,
		product.BasePrice.String(),
		options,
		product.AllowsModifications,
	); err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}
