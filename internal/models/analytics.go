package models

import "fmt"

// ObservationContext carries the dimensions a grade observation lands in.
type ObservationContext struct {
	Region        string `json:"region"`
	InstitutionID string `json:"institution_id"`
	Country       string `json:"country"`
	Level         string `json:"level"`
	Year          int    `json:"year"`
}

// GeoCellKey is the region/institution/year analytics cell key.
func (o ObservationContext) GeoCellKey() string {
	return fmt.Sprintf("analytics:geo:%s:%s:%d", o.Region, o.InstitutionID, o.Year)
}

// PassCellKey is the country/level/year approval cell key.
func (o ObservationContext) PassCellKey() string {
	return fmt.Sprintf("analytics:pass:%s:%s:%d", o.Country, o.Level, o.Year)
}

// BucketCellKey is the country/level/year/bucket distribution cell key.
func (o ObservationContext) BucketCellKey(bucket string) string {
	return fmt.Sprintf("analytics:dist:%s:%s:%d:%s", o.Country, o.Level, o.Year, bucket)
}

// CellSummary is the read-side view of one pre-aggregated counter cell.
// Average is computed as Sum/Count at query time; no scan ever happens.
type CellSummary struct {
	Key     string  `json:"key"`
	Sum     float64 `json:"sum"`
	Count   int64   `json:"count"`
	Passed  int64   `json:"passed,omitempty"`
	Average float64 `json:"average"`
}

// DistributionCell is one bucket of the grade distribution.
type DistributionCell struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}
