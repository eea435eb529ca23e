package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

// SkuResolution is the outcome of resolving a set of external SKUs.
type SkuResolution struct {
	Mapped   map[string]string
	Unmapped []string
}

// Err returns an UnmappedSkuError when any SKU is missing.
func (r SkuResolution) Err(channel domain.Channel) error {
	if len(r.Unmapped) == 0 {
		return nil
	}
	return &domain.UnmappedSkuError{Channel: channel, SKUs: r.Unmapped}
}

// resolveSkus is the transactional lookup shared by the webhook and CSV
// pipelines. It performs no writes.
func resolveSkus(ctx context.Context, tx store.Tx, channel domain.Channel, skus []string) (SkuResolution, error) {
	uniq := make([]string, 0, len(skus))
	seen := make(map[string]bool, len(skus))
	for _, s := range skus {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		uniq = append(uniq, s)
	}
	mapped, err := tx.ResolveSkus(ctx, channel, uniq)
	if err != nil {
		return SkuResolution{}, fmt.Errorf("resolve skus: %w", err)
	}
	res := SkuResolution{Mapped: mapped}
	for _, s := range uniq {
		if _, ok := mapped[s]; !ok {
			res.Unmapped = append(res.Unmapped, s)
		}
	}
	sort.Strings(res.Unmapped)
	return res, nil
}

// SkuService administers channel SKU mappings.
type SkuService struct {
	Store store.Store
}

type CreateMappingInput struct {
	Channel       domain.Channel
	ExternalSkuID string
	VariantID     string
}

func (s SkuService) Resolve(ctx context.Context, channel domain.Channel, skus []string) (SkuResolution, error) {
	c, ok := domain.ParseChannel(string(channel))
	if !ok {
		return SkuResolution{}, domain.Invalid("channel", "unknown channel %q", channel)
	}
	var res SkuResolution
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = resolveSkus(ctx, tx, c, skus)
		return err
	})
	return res, err
}

func (s SkuService) Create(ctx context.Context, actor domain.Actor, in CreateMappingInput) (*domain.ChannelSkuMap, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	c, ok := domain.ParseChannel(string(in.Channel))
	if !ok {
		return nil, domain.Invalid("channel", "unknown channel %q", in.Channel)
	}
	sku := strings.TrimSpace(in.ExternalSkuID)
	if sku == "" {
		return nil, domain.Invalid("externalSkuId", "is required")
	}
	if strings.TrimSpace(in.VariantID) == "" {
		return nil, domain.Invalid("variantId", "is required")
	}

	m := &domain.ChannelSkuMap{Channel: c, ExternalSkuID: sku, VariantID: in.VariantID}
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := loadVariants(ctx, tx, []string{in.VariantID}); err != nil {
			return err
		}
		if err := tx.InsertSkuMap(ctx, m); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("sku %s on %s is already mapped: %w", sku, c, store.ErrDuplicate)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s SkuService) List(ctx context.Context, channel domain.Channel) ([]domain.ChannelSkuMap, error) {
	if channel != "" {
		c, ok := domain.ParseChannel(string(channel))
		if !ok {
			return nil, domain.Invalid("channel", "unknown channel %q", channel)
		}
		channel = c
	}
	var out []domain.ChannelSkuMap
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListSkuMaps(ctx, channel)
		return err
	})
	return out, err
}

func (s SkuService) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteSkuMap(ctx, id)
	})
}
