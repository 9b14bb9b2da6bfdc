package crawler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// ParseError marks a response body that could not be decoded. The
// orchestrator treats it as a record-level failure, not a run failure.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Client builds request URLs for and decodes responses from the catalog's
// JSON endpoints. ProductURL and SellerURL are printf templates with a
// single %d verb.
type Client struct {
	ListingURL string
	ProductURL string
	SellerURL  string
	PerPage    int
}

func NewClient(listingURL, productURL, sellerURL string, perPage int) *Client {
	if perPage <= 0 {
		perPage = 48
	}
	return &Client{
		ListingURL: listingURL,
		ProductURL: productURL,
		SellerURL:  sellerURL,
		PerPage:    perPage,
	}
}

// ListingPageURL is the listing endpoint for one page of a category.
func (c *Client) ListingPageURL(categoryID int64, page int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.PerPage))
	q.Set("category", strconv.FormatInt(categoryID, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("aggregations", "2")
	return c.ListingURL + "?" + q.Encode()
}

func (c *Client) ProductDetailURL(productID int64) string {
	return fmt.Sprintf(c.ProductURL, productID)
}

func (c *Client) SellerFollowURL(sellerID int64) string {
	return fmt.Sprintf(c.SellerURL, sellerID)
}

func (c *Client) ParseListing(srcURL string, body []byte) (*ListingPage, error) {
	var resp listingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{URL: srcURL, Err: err}
	}
	return &ListingPage{
		Rows:        resp.Data,
		CurrentPage: resp.Paging.CurrentPage,
		LastPage:    resp.Paging.LastPage,
	}, nil
}

func (c *Client) ParseDetail(srcURL string, body []byte) (*DetailResponse, error) {
	var resp DetailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{URL: srcURL, Err: err}
	}
	if resp.ID == 0 {
		return nil, &ParseError{URL: srcURL, Err: fmt.Errorf("detail without product id")}
	}
	return &resp, nil
}

func (c *Client) ParseSellerFollowers(srcURL string, body []byte) (int64, error) {
	var resp sellerFollowResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &ParseError{URL: srcURL, Err: err}
	}
	return resp.Data.Following.TotalFollower, nil
}
