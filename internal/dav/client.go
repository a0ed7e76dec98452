// Package dav is a small WebDAV client covering the remote operations
// the sync engines and the migration need: the key collection, calendar
// and addressbook collections, and the records inside them.
package dav

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads. Multistatus listings
	// of large collections are the biggest payloads.
	maxResponseBytes = 16 * 1024 * 1024

	xmlContentType = `application/xml; charset="utf-8"`
)

// Client talks to one WebDAV server on behalf of one account.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	username   string
	password   string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so credentials never leak to
// third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a client for the server at baseURL. If httpClient
// is nil, a client with a 30-second timeout and same-host redirect
// policy is created.
func NewClient(httpClient *http.Client, baseURL, username, password string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server URL %q must be absolute", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    u,
		username:   username,
		password:   password,
	}, nil
}

// Host returns the server host, used to tell the operator's own
// service apart from third-party servers.
func (c *Client) Host() string {
	return c.baseURL.Hostname()
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do sends a request for path (relative to the server root) and maps
// non-success statuses onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte) (*response, error) {
	target := c.baseURL.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &apperrors.TransientError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apperrors.TransientError{Err: fmt.Errorf("reading response from %s %s: %w", method, path, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(method, path, resp.StatusCode, respBody)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

func statusError(method, path string, status int, body []byte) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, apperrors.ErrNotFound)
	case status == http.StatusForbidden, status == http.StatusMethodNotAllowed:
		return fmt.Errorf("%s %s (%d): %w", method, path, status, apperrors.ErrForbidden)
	case status == http.StatusPreconditionFailed:
		return fmt.Errorf("%s %s: %w", method, path, apperrors.ErrConflict)
	case isTransientStatus(status):
		return &apperrors.TransientError{
			Err: fmt.Errorf("%s %s returned status %d: %w", method, path, status, apperrors.ErrAPIRequest),
		}
	default:
		return fmt.Errorf("%s %s returned status %d: %s: %w",
			method, path, status, sanitizeResponseBody(body), apperrors.ErrAPIResponse)
	}
}

func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var b strings.Builder

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			b.WriteByte('?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			b.WriteByte('?')
		} else {
			b.Write(body[:size])
		}

		body = body[size:]
	}

	return b.String()
}

// propfind issues a PROPFIND for the named properties and parses the
// multistatus reply.
func (c *Client) propfind(ctx context.Context, path string, depth int, props []xml.Name) ([]propResponse, error) {
	body, err := buildPropfind(props)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", xmlContentType)
	header.Set("Depth", fmt.Sprint(depth))

	resp, err := c.do(ctx, "PROPFIND", path, header, body)
	if err != nil {
		return nil, err
	}

	return parseMultistatus(resp.body)
}

// proppatch sets the given properties on path.
func (c *Client) proppatch(ctx context.Context, path string, props []property) error {
	body, err := buildSetBody(propertyUpdateName, nil, props)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Content-Type", xmlContentType)

	resp, err := c.do(ctx, "PROPPATCH", path, header, body)
	if err != nil {
		return err
	}

	return checkPropstats(path, resp.body)
}

// mkcol creates a collection with an extended MKCOL body.
func (c *Client) mkcol(ctx context.Context, path string, resourceType []xml.Name, props []property) error {
	body, err := buildSetBody(mkcolName, resourceType, props)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Content-Type", xmlContentType)

	_, err = c.do(ctx, "MKCOL", path, header, body)

	return err
}

// remove deletes the resource at path.
func (c *Client) remove(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}
