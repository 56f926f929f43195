package models

import "time"

// StepSample is a batch of steps counted at one instant, as recorded by a
// device feed or imported from a monitoring file.
type StepSample struct {
	At              time.Time
	Steps           int
	Distance        *float64 // meters
	FloorsAscended  *int
	FloorsDescended *int
	Source          string
}

// StepAggregate sums the samples recorded in a time range. Optional totals are
// nil when no sample in the range carried that metric.
type StepAggregate struct {
	From            time.Time
	To              time.Time
	Samples         int
	Steps           int
	Distance        *float64
	FloorsAscended  *int
	FloorsDescended *int
	// First and Last bound the samples actually found.
	First time.Time
	Last  time.Time
}

// Empty reports whether no sample fell in the range.
func (a StepAggregate) Empty() bool {
	return a.Samples == 0
}

// ImportedFile records a monitoring file already folded into the store.
type ImportedFile struct {
	Name       string
	Samples    int
	ImportedAt time.Time
}

// StoreStats summarizes the store for health reporting.
type StoreStats struct {
	Samples       int        `json:"samples"`
	ImportedFiles int        `json:"imported_files"`
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
}
