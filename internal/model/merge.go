package model

import "time"

// MergeStatus is the outcome of ingesting one snapshot.
type MergeStatus string

const (
	MergeIngested MergeStatus = "ingested"
	MergeSkipped  MergeStatus = "skipped"
	MergeFailed   MergeStatus = "failed"
)

// MergeReport summarizes the ingestion of a single snapshot. Appended
// counts only rows actually written, so under change-triggered history a
// re-crawl of unchanged products reports zero appends.
type MergeReport struct {
	SnapshotAt    time.Time
	Status        MergeStatus
	Products      int
	Sellers       int
	PriceAppends  int
	SalesAppends  int
	RatingAppends int
	SkippedValues int
	Err           error
}
