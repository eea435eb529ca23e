package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

func TestSkuResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mapSku(t, domain.ChannelShopee, "SHP-KPH-M", f.tee.ID)
	f.mapSku(t, domain.ChannelTikTok, "SHP-KFL-L", f.shirt.ID)

	res, err := f.skus.Resolve(ctx, "shopee", []string{" SHP-KPH-M ", "SHP-KPH-M", "SHP-KFL-L", "", "ZZZ"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SHP-KPH-M": f.tee.ID}, res.Mapped)
	assert.Equal(t, []string{"SHP-KFL-L", "ZZZ"}, res.Unmapped)

	var unmapped *domain.UnmappedSkuError
	require.ErrorAs(t, res.Err(domain.ChannelShopee), &unmapped)
	assert.Equal(t, []string{"SHP-KFL-L", "ZZZ"}, unmapped.SKUs)

	_, err = f.skus.Resolve(ctx, "lazada", nil)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSkuMappingAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.skus.Create(ctx, staff, CreateMappingInput{Channel: domain.ChannelShopee, ExternalSkuID: "A", VariantID: f.tee.ID})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.skus.Create(ctx, admin, CreateMappingInput{Channel: domain.ChannelShopee, ExternalSkuID: "A", VariantID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	m, err := f.skus.Create(ctx, admin, CreateMappingInput{Channel: "shopee", ExternalSkuID: " A ", VariantID: f.tee.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelShopee, m.Channel)
	assert.Equal(t, "A", m.ExternalSkuID)

	_, err = f.skus.Create(ctx, admin, CreateMappingInput{Channel: domain.ChannelShopee, ExternalSkuID: "A", VariantID: f.shirt.ID})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	list, err := f.skus.List(ctx, domain.ChannelShopee)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.skus.Delete(ctx, admin, m.ID))
	list, err = f.skus.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
