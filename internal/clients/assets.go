package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// Link attaches a generated artifact to the entity it was produced for.
// Binary content carries ResourceID; text content carries Text.
type Link struct {
	ContentType domain.GeneratedContentType
	EntityID    uuid.UUID
	ResourceID  uuid.UUID
	Text        string
}

type route struct {
	method string
	format string
}

var linkRoutes = map[domain.GeneratedContentType]route{
	domain.ImagePortrait:   {http.MethodPut, "/api/assets/%s/portrait"},
	domain.ImageToken:      {http.MethodPost, "/api/assets/%s/tokens"},
	domain.TextDescription: {http.MethodPut, "/api/assets/%s/description"},
	domain.ImageBackground: {http.MethodPut, "/api/stages/%s/background"},
	domain.AudioAmbient:    {http.MethodPut, "/api/stages/%s/ambient-sound"},
	domain.AudioEffect:     {http.MethodPost, "/api/stages/%s/sound-effects"},
	domain.VideoBackground: {http.MethodPut, "/api/stages/%s/background-video"},
}

// AssetsClient links generated resources to assets and stages.
type AssetsClient struct {
	*serviceClient
}

// NewAssetsClient builds an entity link client.
func NewAssetsClient(opts Options) (*AssetsClient, error) {
	sc, err := newServiceClient("assets", opts)
	if err != nil {
		return nil, err
	}
	return &AssetsClient{sc}, nil
}

// Attach routes the link by content type.
func (c *AssetsClient) Attach(ctx context.Context, link Link) error {
	rt, ok := linkRoutes[link.ContentType]
	if !ok {
		return fmt.Errorf("%w: no entity link for %s", domain.ErrInvalidContentType, link.ContentType)
	}
	var payload any
	if link.ContentType.IsBinary() {
		payload = map[string]string{"resourceId": link.ResourceID.String()}
	} else {
		payload = map[string]string{"text": link.Text}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &encodeError{fmt.Errorf("assets: encode link: %w", err)}
	}
	_, err = c.send(ctx, rt.method, fmt.Sprintf(rt.format, link.EntityID), body, "application/json")
	return err
}
