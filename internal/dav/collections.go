package dav

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

// Kind selects calendar or addressbook collections.
type Kind int

const (
	Calendars Kind = iota
	Addressbooks
)

func (k Kind) resourceType() xml.Name {
	if k == Calendars {
		return calendarType
	}

	return addressbookType
}

func (k Kind) String() string {
	if k == Calendars {
		return "calendars"
	}

	return "addressbooks"
}

// Collection is a remote calendar or addressbook.
type Collection struct {
	Path        string
	DisplayName string
	Color       string
}

// Hider encrypts collection metadata under the account's key material.
type Hider interface {
	EncryptString(s string) (string, error)
	DecryptString(s string) (string, error)
}

// CollectionStore lists and mutates the collections below one home
// path. A hiding store keeps display name and color encrypted in
// private properties and never writes them in plaintext.
type CollectionStore struct {
	client *Client
	home   string
	kind   Kind
	hider  Hider
}

// NewCollectionStore returns a plain store for collections of kind
// below home.
func NewCollectionStore(c *Client, home string, kind Kind) *CollectionStore {
	if !strings.HasSuffix(home, "/") {
		home += "/"
	}

	return &CollectionStore{client: c, home: home, kind: kind}
}

// Hiding returns a copy of the store that hides metadata with h.
func (s *CollectionStore) Hiding(h Hider) *CollectionStore {
	cp := *s
	cp.hider = h

	return &cp
}

// Kind returns the kind of collection the store manages.
func (s *CollectionStore) Kind() Kind {
	return s.kind
}

// List returns every collection of the store's kind below home.
func (s *CollectionStore) List(ctx context.Context) ([]Collection, error) {
	props := []xml.Name{resourceTypeProp, displayNameProp, colorProp}
	if s.hider != nil {
		props = append(props, hiddenNameProp, hiddenColorProp)
	}

	resps, err := s.client.propfind(ctx, s.home, 1, props)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.kind, err)
	}

	var out []Collection

	for _, r := range resps {
		if r.Path == s.home || !r.isType(s.kind.resourceType()) {
			continue
		}

		c := Collection{Path: r.Path, DisplayName: r.text(displayNameProp), Color: r.text(colorProp)}

		if s.hider != nil {
			if c.DisplayName, err = s.reveal(r, hiddenNameProp, c.DisplayName); err != nil {
				return nil, err
			}

			if c.Color, err = s.reveal(r, hiddenColorProp, c.Color); err != nil {
				return nil, err
			}
		}

		out = append(out, c)
	}

	return out, nil
}

func (s *CollectionStore) reveal(r propResponse, name xml.Name, fallback string) (string, error) {
	if !r.has(name) {
		return fallback, nil
	}

	v, err := s.hider.DecryptString(r.text(name))
	if err != nil {
		return "", fmt.Errorf("revealing %s of %s: %w", name.Local, r.Path, err)
	}

	return v, nil
}

// Add creates a collection. An existing collection is reported as
// ErrForbidden.
func (s *CollectionStore) Add(ctx context.Context, c Collection) error {
	var props []property

	if s.hider == nil {
		props = appendIfSet(props, displayNameProp, c.DisplayName)
		props = appendIfSet(props, colorProp, c.Color)
	} else {
		for _, p := range []property{{hiddenNameProp, c.DisplayName}, {hiddenColorProp, c.Color}} {
			if p.Value == "" {
				continue
			}

			enc, err := s.hider.EncryptString(p.Value)
			if err != nil {
				return fmt.Errorf("hiding %s: %w", p.Name.Local, err)
			}

			props = append(props, property{Name: p.Name, Value: enc})
		}
	}

	return s.client.mkcol(ctx, c.Path, []xml.Name{collectionType, s.kind.resourceType()}, props)
}

// Remove deletes the collection at path and everything in it.
func (s *CollectionStore) Remove(ctx context.Context, path string) error {
	return s.client.remove(ctx, path)
}

func appendIfSet(props []property, name xml.Name, value string) []property {
	if value == "" {
		return props
	}

	return append(props, property{Name: name, Value: value})
}
