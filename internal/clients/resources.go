package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// ResourcesClient stores generated files and returns their resource ids.
type ResourcesClient struct {
	*serviceClient
}

// NewResourcesClient builds a resource service client.
func NewResourcesClient(opts Options) (*ResourcesClient, error) {
	sc, err := newServiceClient("resources", opts)
	if err != nil {
		return nil, err
	}
	return &ResourcesClient{sc}, nil
}

// Upload posts the file as multipart form data.
func (c *ResourcesClient) Upload(ctx context.Context, up domain.ResourceUpload) (uuid.UUID, error) {
	if len(up.Data) == 0 {
		return uuid.Nil, errors.New("resources: empty upload")
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"role":        up.Role,
		"contentType": up.ContentType,
	}
	if up.OwnerID != uuid.Nil {
		fields["ownerId"] = up.OwnerID.String()
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return uuid.Nil, fmt.Errorf("resources: write field %s: %w", k, err)
		}
	}
	part, err := writer.CreateFormFile("file", up.FileName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resources: create file part: %w", err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return uuid.Nil, fmt.Errorf("resources: write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("resources: close multipart: %w", err)
	}

	data, err := c.send(ctx, http.MethodPost, "/api/resources", body.Bytes(), writer.FormDataContentType())
	if err != nil {
		return uuid.Nil, err
	}
	var decoded struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return uuid.Nil, fmt.Errorf("resources: decode upload response: %w", err)
	}
	if decoded.ID == uuid.Nil {
		return uuid.Nil, errors.New("resources: upload response carried no id")
	}
	return decoded.ID, nil
}

// Delete removes a resource. Deleting a missing resource succeeds.
func (c *ResourcesClient) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := c.send(ctx, http.MethodDelete, fmt.Sprintf("/api/resources/%s", id), nil, "")
	if IsNotFound(err) {
		return nil
	}
	return err
}
