package crawler

import (
	"bytes"
	"strconv"
)

type listingResponse struct {
	Data   []ListingRow `json:"data"`
	Paging paging       `json:"paging"`
}

type paging struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
}

// ListingRow is the slice of a listing entry the orchestrator needs: the
// id to fetch details for plus the name as a fallback.
type ListingRow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListingPage is one parsed listing response.
type ListingPage struct {
	Rows        []ListingRow
	CurrentPage int
	LastPage    int
}

// DetailResponse mirrors the product detail endpoint. Numeric fields
// arrive as numbers, quoted numbers or null depending on the product, so
// they decode through nullFloat / nullInt instead of failing the record.
type DetailResponse struct {
	ID                  int64          `json:"id"`
	Name                string         `json:"name"`
	ShortDescription    string         `json:"short_description"`
	URLKey              string         `json:"url_key"`
	Description         string         `json:"description"`
	Price               nullFloat      `json:"price"`
	RatingAverage       nullFloat      `json:"rating_average"`
	AllTimeQuantitySold nullInt        `json:"all_time_quantity_sold"`
	QuantitySold        *QuantityBlock `json:"quantity_sold"`
	CurrentSeller       *SellerBlock   `json:"current_seller"`
}

type QuantityBlock struct {
	Value nullInt `json:"value"`
}

type SellerBlock struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Link string `json:"link"`
}

type sellerFollowResponse struct {
	Data struct {
		Following struct {
			TotalFollower int64 `json:"total_follower"`
		} `json:"following"`
	} `json:"data"`
}

// nullFloat decodes a JSON number that may be null or quoted. Values that
// parse as nothing numeric become nil; the merge engine later skips nil
// dimensions with a soft warning rather than dropping the record.
type nullFloat struct {
	Value *float64
}

func (n *nullFloat) UnmarshalJSON(b []byte) error {
	n.Value = nil
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n.Value = &f
	return nil
}

type nullInt struct {
	Value *int64
}

func (n *nullInt) UnmarshalJSON(b []byte) error {
	n.Value = nil
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		n.Value = &v
		return nil
	}
	// Some counters come back as floats; accept those too.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v := int64(f)
		n.Value = &v
	}
	return nil
}
