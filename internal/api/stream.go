package api

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

const maxErrorBody = 64 << 10

// OpenStream POSTs body to path and returns the open response body. No
// timeout is applied; ctx alone bounds the stream. A non-2xx status is
// returned as *HTTPError.
func (c *Client) OpenStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(ErrNetwork, "POST %s: %v", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := newHTTPError(resp.StatusCode, data)
		if herr.Status == http.StatusUnauthorized && c.tokens != nil {
			if err := c.tokens.Clear(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("failed to clear token")
			}
		}
		return nil, herr
	}

	if resp.Body == nil || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}
	return resp.Body, nil
}
