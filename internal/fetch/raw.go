package fetch

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

var errNotUTF8 = errors.New("non UTF-8 document")

// rawElements returns the verbatim bytes of every <item> and <entry>
// element of an XML feed, in document order. It returns nil when the
// document cannot be scanned byte for byte.
func rawElements(body []byte) []string {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.Strict = false
	d.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		// Offsets only match the body when no transcoding happens.
		switch strings.ToLower(label) {
		case "utf-8", "utf8", "us-ascii", "ascii":
			return input, nil
		}
		return nil, errNotUTF8
	}

	var raws []string
	for {
		start := d.InputOffset()
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return raws
		}
		if err != nil {
			log.Debug().Err(err).Msg("Unable to scan raw feed items")
			return nil
		}

		el, ok := tok.(xml.StartElement)
		if !ok || (el.Name.Local != "item" && el.Name.Local != "entry") {
			continue
		}
		if err := d.Skip(); err != nil {
			log.Debug().Err(err).Msg("Unable to scan raw feed items")
			return nil
		}
		raws = append(raws, string(body[start:d.InputOffset()]))
	}
}

type rendered struct {
	XMLName     xml.Name `xml:"item"`
	GUID        string   `xml:"guid,omitempty"`
	Title       string   `xml:"title,omitempty"`
	Link        string   `xml:"link,omitempty"`
	Description string   `xml:"description,omitempty"`
	PubDate     string   `xml:"pubDate,omitempty"`
}

// renderItem renders a minimal RSS <item> for items whose original
// element is not available.
func renderItem(item rendered) string {
	out, err := xml.Marshal(item)
	if err != nil {
		return "<item></item>"
	}
	return string(out)
}
