package backend

import (
	"context"
	"net/http"
)

// PostLocation reports one location sample.
func (c *Client) PostLocation(ctx context.Context, p LocationPayload) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/locations/", body: p}, nil)
}

// LocationLogConfig fetches the server-configured sampling interval.
func (c *Client) LocationLogConfig(ctx context.Context) (*LocationLogConfig, error) {
	var cfg LocationLogConfig
	if err := c.do(ctx, request{method: http.MethodGet, path: "/location-log-config/"}, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
