package mobiles91

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/phone-spec-scraper/internal/fetch/fetchtest"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/sites"
)

const productPage = `<html><body>
<h1 class="prdocutPage_main_heading">OnePlus 12R 5G</h1>
<div class="price_box">
  <span class="big_pricee">₹39,999</span>
  <p><span>MRP</span> ₹42,999</p>
</div>
<div class="gallery_slider">
  <img src="//images.91mobiles.com/oneplus-12r.jpg">
  <img data-src="/uploads/oneplus-12r-back.jpg">
</div>
<div class="spec_box">
  <ul><li>RAM: 8 GB</li><li>Dual SIM</li></ul>
</div>
<div class="spec_row"><span class="spec_label">Battery</span><span class="spec_value">5500 mAh</span></div>
<div class="user_rating">4.4/5 based on 1250 ratings</div>
<div class="key_features"><ul><li>Snapdragon 8 Gen 2</li><li>100W SUPERVOOC charging</li><li>OK</li></ul></div>
</body></html>`

func testOptions() sites.Options {
	return sites.Options{
		BaseURL:    BaseURL,
		MaxRetries: 1,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestParsePhone(t *testing.T) {
	phone, err := ParsePhone([]byte(productPage), BaseURL+"/oneplus-12r-price-in-india")
	require.NoError(t, err)
	require.NoError(t, phone.Validate())

	assert.Equal(t, "OnePlus", phone.Brand)
	assert.Equal(t, "12R 5G", phone.Model)
	assert.Equal(t, models.SiteMobiles91, phone.Source)
	assert.Equal(t, "INR", phone.Currency)

	require.NotNil(t, phone.Price)
	assert.Equal(t, "₹39,999", *phone.Price)
	require.NotNil(t, phone.OriginalPrice)
	assert.Equal(t, "₹42,999", *phone.OriginalPrice)
	assert.True(t, phone.Discounted)

	assert.Equal(t, []string{
		"https://images.91mobiles.com/oneplus-12r.jpg",
		"https://www.91mobiles.com/uploads/oneplus-12r-back.jpg",
	}, phone.Images)
	assert.Equal(t, map[string]string{"RAM": "8 GB", "Dual SIM": "Dual SIM", "Battery": "5500 mAh"}, phone.Specs)

	require.NotNil(t, phone.Rating)
	assert.Equal(t, 4.4, *phone.Rating)
	require.NotNil(t, phone.ReviewsCount)
	assert.Equal(t, 1250, *phone.ReviewsCount)

	assert.Contains(t, phone.Highlights, "Snapdragon 8 Gen 2")
	assert.Contains(t, phone.Highlights, "100W SUPERVOOC charging")
	assert.NotContains(t, phone.Highlights, "OK")
	assert.True(t, phone.InStock)
}

func TestParsePhone_OutOfStock(t *testing.T) {
	page := `<html><body><h1>Nokia 3310</h1><p>This phone is discontinued.</p></body></html>`
	phone, err := ParsePhone([]byte(page), "u")
	require.NoError(t, err)
	assert.False(t, phone.InStock)
	assert.Nil(t, phone.Price)
	assert.False(t, phone.Discounted)
}

func TestSearch_FallsBackToLatestPhones(t *testing.T) {
	home := `<html><body>
<a href="/about">About</a>
<a href="/vivo-x100-price-in-india">vivo X100</a>
<a href="/poco-f6-price-in-india">Poco F6</a>
</body></html>`
	f := fetchtest.New().Page(BaseURL+"/", home)
	f.Page(BaseURL+"/vivo-x100-price-in-india", `<h1>vivo X100</h1>`)
	f.Page(BaseURL+"/poco-f6-price-in-india", `<h1>Poco F6</h1>`)

	s := New(f, testOptions())

	phones, err := s.Search(context.Background(), "poco", 5)
	require.NoError(t, err)
	require.Len(t, phones, 1)
	assert.Equal(t, "F6", phones[0].Model)

	phones, err = s.Search(context.Background(), "pixel", 5)
	require.NoError(t, err)
	require.Len(t, phones, 2)
	assert.Equal(t, "vivo", phones[0].Brand)
	assert.Equal(t, "Poco", phones[1].Brand)
}

func TestSearch_CaptchaPrefixAborts(t *testing.T) {
	f := fetchtest.New().Page(BaseURL+"/", `<html><body>Please complete the captcha<a href="/x-price-in-india">x</a></body></html>`)

	phones, err := New(f, testOptions()).Search(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Empty(t, phones)
	assert.Len(t, f.Calls(), 1)
}
