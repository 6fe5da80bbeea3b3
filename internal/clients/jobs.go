package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// JobsClient reaches the job-tracking service.
type JobsClient struct {
	*serviceClient
}

// NewJobsClient builds a tracking client.
func NewJobsClient(opts Options) (*JobsClient, error) {
	sc, err := newServiceClient("jobs", opts)
	if err != nil {
		return nil, err
	}
	return &JobsClient{sc}, nil
}

func (c *JobsClient) sendJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &encodeError{fmt.Errorf("jobs: encode request: %w", err)}
	}
	return c.send(ctx, method, path, body, "application/json")
}

// UpdateItemStatus patches one item of a job.
func (c *JobsClient) UpdateItemStatus(ctx context.Context, update domain.ItemStatusUpdate) error {
	_, err := c.sendJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%s/items/%d", update.JobID, update.Index), update)
	return err
}

// UpdateJobCounts pushes the aggregate counters.
func (c *JobsClient) UpdateJobCounts(ctx context.Context, counts domain.JobCounts) error {
	_, err := c.sendJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%s/counts", counts.JobID), counts)
	return err
}

// UpdateJobStatus patches the job lifecycle status.
func (c *JobsClient) UpdateJobStatus(ctx context.Context, update domain.JobStatusUpdate) error {
	_, err := c.sendJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%s", update.JobID), update)
	return err
}

// BroadcastProgress relays a progress event through the tracking service.
func (c *JobsClient) BroadcastProgress(ctx context.Context, event domain.ProgressEvent) error {
	_, err := c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%s/progress", event.JobID), event)
	return err
}

// GetJob fetches a job with its items. A missing job maps to domain.ErrNotFound.
func (c *JobsClient) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	data, err := c.send(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%s", jobID), nil, "")
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobs: decode job: %w", err)
	}
	return &job, nil
}
