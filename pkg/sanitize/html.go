// Package sanitize cleans message bodies before they are cached and rendered.
package sanitize

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/inbucket/mailsync/pkg/message"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var cssSafe = regexp.MustCompile(".*")

// Policy sanitizes message HTML while preserving inline styling that survives Style.
type Policy struct {
	policy            *bluemonday.Policy
	blockRemoteImages bool
}

// NewPolicy builds a policy.  When blockRemoteImages is set, img elements loading http(s)
// resources lose their src, which prevents tracking pixels from firing when a cached message is
// rendered.
func NewPolicy(blockRemoteImages bool) *Policy {
	return &Policy{
		policy: bluemonday.UGCPolicy().
			AllowElements("center").
			AllowAttrs("style").Matching(cssSafe).Globally(),
		blockRemoteImages: blockRemoteImages,
	}
}

// Default is the policy used by HTML.
var Default = NewPolicy(false)

// HTML sanitizes the provided html with the default policy.
func HTML(input string) (string, error) {
	return Default.HTML(input)
}

// HTML sanitizes the provided html.
func (p *Policy) HTML(input string) (string, error) {
	b := &bytes.Buffer{}
	if err := p.filterTags(b, strings.NewReader(input)); err != nil {
		return "", err
	}
	return p.policy.Sanitize(b.String()), nil
}

// Detail sanitizes the HTML body of d in place.  On failure the HTML body is dropped, leaving the
// text body for display.
func (p *Policy) Detail(d *message.Detail) error {
	if d == nil || d.HTML == "" {
		return nil
	}
	out, err := p.HTML(d.HTML)
	if err != nil {
		d.HTML = ""
		return err
	}
	d.HTML = out
	return nil
}

// filterTags rewrites start tags, filtering style attributes and optionally remote image sources.
func (p *Policy) filterTags(w io.Writer, r io.Reader) error {
	bw := bufio.NewWriter(w)
	b := make([]byte, 0, 256)
	z := html.NewTokenizer(r)
	for {
		b = b[:0]
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return bw.Flush()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				if _, err := bw.Write(z.Raw()); err != nil {
					return err
				}
				continue
			}
			img := string(name) == "img"
			b = append(b, '<')
			b = append(b, name...)
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				k := strings.ToLower(string(key))
				v := string(val)
				switch {
				case k == "style":
					if v = Style(v); v == "" {
						continue
					}
				case img && k == "src" && p.blockRemoteImages && isRemote(v):
					continue
				}
				b = append(b, ' ')
				b = append(b, key...)
				b = append(b, '=', '"')
				b = append(b, html.EscapeString(v)...)
				b = append(b, '"')
			}
			if tt == html.SelfClosingTagToken {
				b = append(b, '/')
			}
			if _, err := bw.Write(append(b, '>')); err != nil {
				return err
			}
		default:
			if _, err := bw.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}

func isRemote(src string) bool {
	s := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "//")
}
