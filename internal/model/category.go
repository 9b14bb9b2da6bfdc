package model

// Category is one crawl target from the categories file. Read-only for
// the duration of a run.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
