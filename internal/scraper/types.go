// Package scraper contains the dispatch engine, pacing, failure tracking,
// and batch accounting for IPTU lookups.
package scraper

import "time"

// JobStatus tracks a job through the claim lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobClaimed   JobStatus = "claimed"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a single contributor-number lookup pulled from the work queue.
type Job struct {
	ContributorNumber string
	Status            JobStatus
	Priority          bool
	BatchID           string
	ClaimedAt         time.Time
}

// Record holds the property fields read from the result page.
type Record struct {
	ContributorNumber  string `json:"numero_contribuinte"`
	RegistrationNumber string `json:"numero_iptu"`
	OwnerName          string `json:"proprietario_nome"`
	BuyerName          string `json:"compromissario_nome"`
	Street             string `json:"endereco"`
	Number             string `json:"numero"`
	Complement         string `json:"complemento"`
	District           string `json:"bairro"`
	PostalCode         string `json:"cep"`
}

// ScrapeResult is the terminal outcome of one job.
type ScrapeResult struct {
	ContributorNumber string    `json:"numero_contribuinte"`
	Success           bool      `json:"success"`
	Record            *Record   `json:"record,omitempty"`
	Error             string    `json:"error,omitempty"`
	RateLimited       bool      `json:"rate_limited,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	WorkerID          string    `json:"worker_id"`
	BatchID           string    `json:"batch_id"`
}

// Extraction pairs a parsed record with the raw page HTML so failed
// pages can be snapshotted for inspection.
type Extraction struct {
	Record *Record
	HTML   []byte
}

// Stats summarizes a finished batch run.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// BatchStatus tracks a batch through its lifetime.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// BatchSnapshot is a point-in-time view of batch progress.
type BatchSnapshot struct {
	ID          string
	Total       int
	Processed   int
	Succeeded   int
	Failed      int
	Status      BatchStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}
