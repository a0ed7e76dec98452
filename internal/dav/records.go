package dav

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

// RecordInfo identifies a record and its current version on the server.
type RecordInfo struct {
	Href string
	ETag string
}

// Record is a record body as stored remotely. Data is opaque ciphertext.
type Record struct {
	Href string
	ETag string
	Data []byte
}

// ListRecords returns href and ETag for every record in a collection.
func (c *Client) ListRecords(ctx context.Context, collection string) ([]RecordInfo, error) {
	resps, err := c.propfind(ctx, collection, 1, []xml.Name{resourceTypeProp, etagProp})
	if err != nil {
		return nil, fmt.Errorf("listing records in %s: %w", collection, err)
	}

	var out []RecordInfo

	for _, r := range resps {
		if r.Path == collection || r.isType(collectionType) {
			continue
		}

		out = append(out, RecordInfo{Href: r.Path, ETag: r.text(etagProp)})
	}

	return out, nil
}

// GetRecord downloads a record.
func (c *Client) GetRecord(ctx context.Context, href string) (*Record, error) {
	resp, err := c.do(ctx, http.MethodGet, href, nil, nil)
	if err != nil {
		return nil, err
	}

	return &Record{Href: href, ETag: resp.header.Get("ETag"), Data: resp.body}, nil
}

// PutRecord uploads a record. When etag is set the write only succeeds
// if the server copy is unchanged (ErrConflict otherwise); when empty
// the record must not exist yet. Returns the new ETag, which may be
// empty if the server does not report one.
func (c *Client) PutRecord(ctx context.Context, href string, data []byte, etag string) (string, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")

	if etag != "" {
		header.Set("If-Match", etag)
	} else {
		header.Set("If-None-Match", "*")
	}

	resp, err := c.do(ctx, http.MethodPut, href, header, data)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp.header.Get("ETag")), nil
}
