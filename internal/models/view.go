package models

import "time"

type QueryParams struct {
	PageNumber *int    `json:"page_number"`
	Sort       *string `json:"sort"`
	MinPrice   *string `json:"min_price"`
	MaxPrice   *string `json:"max_price"`
	Others     *string `json:"others"`
}

type Seller struct {
	SellerName   string   `json:"seller_name"`
	SellerRating *float64 `json:"seller_rating"`
}

// DetailedPhone is the display record of one phone.
type DetailedPhone struct {
	Name          string         `json:"name"`
	Link          string         `json:"link"`
	CurrentPrice  *string        `json:"current_price"`
	OriginalPrice *string        `json:"original_price"`
	Discounted    bool           `json:"discounted"`
	Thumbnail     *string        `json:"thumbnail"`
	QueryURL      string         `json:"query_url"`
	Rating        *float64       `json:"rating"`
	InStock       bool           `json:"in_stock"`
	FAssured      bool           `json:"f_assured"`
	Source        Site           `json:"source"`
	Seller        Seller         `json:"seller"`
	Highlights    []string       `json:"highlights"`
	Offers        []Offer        `json:"offers"`
	Specs         []SpecCategory `json:"specs"`
	AllThumbnails []string       `json:"all_thumbnails"`
}

type DetailedEnvelope struct {
	TotalResult int             `json:"total_result"`
	Query       string          `json:"query"`
	QueryParams QueryParams     `json:"query_params"`
	Timestamp   time.Time       `json:"timestamp"`
	Result      []DetailedPhone `json:"result"`
}

type BasicPhone struct {
	Name     string   `json:"name"`
	Brand    string   `json:"brand"`
	Price    *string  `json:"price"`
	Rating   *float64 `json:"rating"`
	URL      string   `json:"url"`
	ImageURL *string  `json:"image_url"`
	Source   Site     `json:"source"`
}

type BasicView struct {
	Query        string       `json:"query"`
	TotalResults int          `json:"total_results"`
	Phones       []BasicPhone `json:"phones"`
}
