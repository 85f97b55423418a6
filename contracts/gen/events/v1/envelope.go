package v1

import (
	"encoding/json"
	"time"
)

// Envelope is the versioned wire format for every event crossing a service
// boundary in the outreach platform. Tenancy rides on the envelope itself so
// brokers and consumers can route and authorize without decoding Data. This
// package is generated-contract-only and must stay backward compatible:
// fields are only ever added.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	TenantID         string          `json:"tenant_id"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}
