package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

func (t *Tx) ResolveSkus(ctx context.Context, channel domain.Channel, skus []string) (map[string]string, error) {
	out := make(map[string]string, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT external_sku_id, variant_id
		FROM channel_sku_maps
		WHERE channel=$1 AND external_sku_id = ANY($2)
	`, channel, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sku, variantID string
		if err := rows.Scan(&sku, &variantID); err != nil {
			return nil, err
		}
		out[sku] = variantID
	}
	return out, rows.Err()
}

func (t *Tx) InsertSkuMap(ctx context.Context, m *domain.ChannelSkuMap) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO channel_sku_maps (id, channel, external_sku_id, variant_id, created_at)
		VALUES ($1,$2,$3,$4, now())
		ON CONFLICT (channel, external_sku_id) DO NOTHING
		RETURNING created_at
	`, m.ID, m.Channel, m.ExternalSkuID, m.VariantID).Scan(&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrDuplicate
	}
	return err
}

func (t *Tx) ListSkuMaps(ctx context.Context, channel domain.Channel) ([]domain.ChannelSkuMap, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, channel, external_sku_id, variant_id, created_at
		FROM channel_sku_maps
		WHERE ($1::text = '' OR channel = $1)
		ORDER BY channel ASC, external_sku_id ASC
	`, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.ChannelSkuMap
	for rows.Next() {
		var m domain.ChannelSkuMap
		if err := rows.Scan(&m.ID, &m.Channel, &m.ExternalSkuID, &m.VariantID, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (t *Tx) DeleteSkuMap(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM channel_sku_maps WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows)
	}
	return nil
}
