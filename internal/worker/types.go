package worker

// IngestTask is the body of an ingest.document message. An empty Name with
// Reprocess set rebuilds the whole index.
type IngestTask struct {
	Name          string `json:"filename,omitempty"`
	Reprocess     bool   `json:"reprocess"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
