package config

const (
	// TopicIngestDocument carries ingestion tasks for a single document or a
	// full reprocess.
	TopicIngestDocument = "ingest.document"

	// TopicDocumentIndexed announces documents whose passages were written.
	TopicDocumentIndexed = "document.indexed"

	// ChannelIngest is the consumer channel for TopicIngestDocument.
	ChannelIngest = "docsearch-backend"
)
