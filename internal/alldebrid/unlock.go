package alldebrid

import (
	"context"
	"fmt"
	"net/url"
)

// UnlockLink converts a hoster link to a direct download link.
func (c *Client) UnlockLink(ctx context.Context, link string) (*UnlockedLink, error) {
	params := url.Values{}
	params.Set("link", link)

	var result UnlockedLink
	if err := c.get(ctx, "/link/unlock", params, &result); err != nil {
		return nil, fmt.Errorf("unlock link: %w", err)
	}
	return &result, nil
}
