package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
)

// Job is one tessellation request read from the jobs topic, with the
// metadata needed to commit it once its zones are published.
type Job struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string

	// Commit acknowledges the job. Nil when the source has no offsets.
	Commit func(ctx context.Context) error
}

// DecodeRequest parses the job body. A job without an id inherits the
// message key so redelivered jobs keep their request id.
func DecodeRequest(job Job) (tessellation.Request, error) {
	var req tessellation.Request
	if err := json.Unmarshal(job.Value, &req); err != nil {
		return tessellation.Request{}, fmt.Errorf("decode tessellation job: %w", err)
	}
	if req.ID == "" && len(job.Key) > 0 {
		req.ID = string(job.Key)
	}
	return req, nil
}
