package alldebrid

import (
	"context"
	"fmt"
	"net/url"
)

// UploadMagnet submits a magnet locator (URI or hash) for caching.
func (c *Client) UploadMagnet(ctx context.Context, magnet string) (*UploadResult, error) {
	params := url.Values{}
	params.Set("magnets", magnet)

	var data uploadData
	if err := c.get(ctx, "/magnet/upload", params, &data); err != nil {
		return nil, fmt.Errorf("upload magnet: %w", err)
	}
	if len(data.Magnets) == 0 {
		return nil, fmt.Errorf("upload magnet: empty response")
	}

	m := data.Magnets[0]
	if m.Error != nil {
		return nil, fmt.Errorf("upload magnet: %w", m.Error)
	}
	return &UploadResult{
		ID:    m.ID.String(),
		Hash:  m.Hash,
		Name:  m.Name,
		Size:  m.Size,
		Ready: m.Ready,
	}, nil
}

// StatusByID fetches the status of one magnet through the v4.1 endpoint.
func (c *Client) StatusByID(ctx context.Context, id string) (*MagnetStatus, error) {
	form := url.Values{}
	form.Set("id", id)

	var data statusData
	if err := c.postV41(ctx, "/magnet/status", form, &data); err != nil {
		return nil, fmt.Errorf("get magnet status: %w", err)
	}
	if len(data.Magnets) == 0 {
		return nil, fmt.Errorf("get magnet status: magnet %s not found", id)
	}
	return &data.Magnets[0], nil
}

// Files fetches the file trees of one or more magnets.
func (c *Client) Files(ctx context.Context, ids []string) ([]MagnetFiles, error) {
	form := url.Values{}
	for _, id := range ids {
		form.Add("id[]", id)
	}

	var data filesData
	if err := c.postV41(ctx, "/magnet/files", form, &data); err != nil {
		return nil, fmt.Errorf("get magnet files: %w", err)
	}
	return data.Magnets, nil
}

// LegacyStatus fetches a magnet through the deprecated v4 status endpoint,
// which still reports the hoster links of ready magnets.
func (c *Client) LegacyStatus(ctx context.Context, id string) (*MagnetStatus, error) {
	params := url.Values{}
	params.Set("id", id)

	var data statusData
	if err := c.get(ctx, "/magnet/status", params, &data); err != nil {
		return nil, fmt.Errorf("get legacy magnet status: %w", err)
	}
	if len(data.Magnets) == 0 {
		return nil, fmt.Errorf("get legacy magnet status: magnet %s not found", id)
	}
	return &data.Magnets[0], nil
}
