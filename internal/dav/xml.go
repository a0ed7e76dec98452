package dav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// XML namespaces used on the wire.
const (
	nsDAV     = "DAV:"
	nsCalDAV  = "urn:ietf:params:xml:ns:caldav"
	nsCardDAV = "urn:ietf:params:xml:ns:carddav"
	nsApple   = "http://apple.com/ns/ical/"
	nsDavSync = "urn:dav-sync"
	nsHidden  = "urn:dav-sync:hidden"
)

var (
	propertyUpdateName = xml.Name{Space: nsDAV, Local: "propertyupdate"}
	mkcolName          = xml.Name{Space: nsDAV, Local: "mkcol"}

	resourceTypeProp = xml.Name{Space: nsDAV, Local: "resourcetype"}
	displayNameProp  = xml.Name{Space: nsDAV, Local: "displayname"}
	etagProp         = xml.Name{Space: nsDAV, Local: "getetag"}
	colorProp        = xml.Name{Space: nsApple, Local: "calendar-color"}

	collectionType  = xml.Name{Space: nsDAV, Local: "collection"}
	calendarType    = xml.Name{Space: nsCalDAV, Local: "calendar"}
	addressbookType = xml.Name{Space: nsCardDAV, Local: "addressbook"}

	hiddenNameProp  = xml.Name{Space: nsHidden, Local: "displayname"}
	hiddenColorProp = xml.Name{Space: nsHidden, Local: "color"}
)

// property is a single name/value pair to set.
type property struct {
	Name  xml.Name
	Value string
}

type rawChild struct {
	XMLName xml.Name
}

type rawProp struct {
	XMLName  xml.Name
	Value    string     `xml:",chardata"`
	Children []rawChild `xml:",any"`
}

type multistatus struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		Href      string `xml:"DAV: href"`
		Status    string `xml:"DAV: status"`
		Propstats []struct {
			Prop struct {
				Props []rawProp `xml:",any"`
			} `xml:"DAV: prop"`
			Status string `xml:"DAV: status"`
		} `xml:"DAV: propstat"`
	} `xml:"DAV: response"`
}

// propResponse is one resource from a multistatus reply with only the
// properties the server returned successfully.
type propResponse struct {
	Path  string
	props map[xml.Name]rawProp
}

func (r propResponse) text(name xml.Name) string {
	return strings.TrimSpace(r.props[name].Value)
}

func (r propResponse) has(name xml.Name) bool {
	_, ok := r.props[name]
	return ok
}

func (r propResponse) isType(t xml.Name) bool {
	for _, c := range r.props[resourceTypeProp].Children {
		if c.XMLName == t {
			return true
		}
	}

	return false
}

func parseMultistatus(body []byte) ([]propResponse, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("decoding multistatus: %w", err)
	}

	out := make([]propResponse, 0, len(ms.Responses))

	for _, r := range ms.Responses {
		path, err := hrefPath(r.Href)
		if err != nil {
			return nil, err
		}

		pr := propResponse{Path: path, props: make(map[xml.Name]rawProp)}

		for _, ps := range r.Propstats {
			if !isSuccess(statusCode(ps.Status)) {
				continue
			}

			for _, p := range ps.Prop.Props {
				pr.props[p.XMLName] = p
			}
		}

		out = append(out, pr)
	}

	return out, nil
}

// checkPropstats returns an error for the first failed propstat in a
// PROPPATCH reply.
func checkPropstats(path string, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return fmt.Errorf("decoding multistatus: %w", err)
	}

	for _, r := range ms.Responses {
		for _, ps := range r.Propstats {
			if code := statusCode(ps.Status); !isSuccess(code) {
				return statusError("PROPPATCH", path, code, nil)
			}
		}
	}

	return nil
}

// hrefPath reduces an href (absolute URL or path) to its decoded path.
func hrefPath(href string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parsing href %q: %w", href, err)
	}

	return u.Path, nil
}

// statusCode extracts the code from an "HTTP/1.1 200 OK" status line.
// Returns 0 when the line is malformed.
func statusCode(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}

	return code
}

func isSuccess(code int) bool {
	return code >= 200 && code <= 299
}

func buildPropfind(names []xml.Name) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	root := xml.StartElement{Name: xml.Name{Space: nsDAV, Local: "propfind"}}
	prop := xml.StartElement{Name: xml.Name{Space: nsDAV, Local: "prop"}}

	tokens := []xml.Token{root, prop}
	for _, n := range names {
		tokens = append(tokens, xml.StartElement{Name: n}, xml.EndElement{Name: n})
	}

	tokens = append(tokens, prop.End(), root.End())

	if err := encodeTokens(enc, tokens); err != nil {
		return nil, fmt.Errorf("encoding propfind: %w", err)
	}

	return buf.Bytes(), nil
}

// buildSetBody renders <root><set><prop>...</prop></set></root>, the
// shape shared by PROPPATCH and extended MKCOL bodies.
func buildSetBody(root xml.Name, resourceType []xml.Name, props []property) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	rootEl := xml.StartElement{Name: root}
	set := xml.StartElement{Name: xml.Name{Space: nsDAV, Local: "set"}}
	prop := xml.StartElement{Name: xml.Name{Space: nsDAV, Local: "prop"}}

	tokens := []xml.Token{rootEl, set, prop}

	if len(resourceType) > 0 {
		rt := xml.StartElement{Name: resourceTypeProp}
		tokens = append(tokens, rt)

		for _, t := range resourceType {
			tokens = append(tokens, xml.StartElement{Name: t}, xml.EndElement{Name: t})
		}

		tokens = append(tokens, rt.End())
	}

	for _, p := range props {
		el := xml.StartElement{Name: p.Name}
		tokens = append(tokens, el, xml.CharData(p.Value), el.End())
	}

	tokens = append(tokens, prop.End(), set.End(), rootEl.End())

	if err := encodeTokens(enc, tokens); err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", root.Local, err)
	}

	return buf.Bytes(), nil
}

func encodeTokens(enc *xml.Encoder, tokens []xml.Token) error {
	for _, t := range tokens {
		if err := enc.EncodeToken(t); err != nil {
			return err
		}
	}

	return enc.Flush()
}
