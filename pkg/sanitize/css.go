package sanitize

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// Properties permitted in inline style attributes.
var allowedProperties = map[string]bool{
	"background-color": true,
	"border":           true,
	"border-bottom":    true,
	"border-collapse":  true,
	"border-left":      true,
	"border-radius":    true,
	"border-right":     true,
	"border-top":       true,
	"color":            true,
	"display":          true,
	"font-family":      true,
	"font-size":        true,
	"font-style":       true,
	"font-weight":      true,
	"height":           true,
	"letter-spacing":   true,
	"line-height":      true,
	"margin":           true,
	"margin-bottom":    true,
	"margin-left":      true,
	"margin-right":     true,
	"margin-top":       true,
	"max-width":        true,
	"min-width":        true,
	"padding":          true,
	"padding-bottom":   true,
	"padding-left":     true,
	"padding-right":    true,
	"padding-top":      true,
	"text-align":       true,
	"text-decoration":  true,
	"text-transform":   true,
	"vertical-align":   true,
	"white-space":      true,
	"width":            true,
	"word-break":       true,
}

// declaration accumulates the tokens of one `property: value` pair.
type declaration struct {
	b       strings.Builder
	started bool
	keep    bool
}

func (d *declaration) reset() {
	d.b.Reset()
	d.started = false
	d.keep = false
}

// Style filters an inline CSS declaration list down to allowed properties.  Declarations whose
// values load resources (url) or call functions such as expression() are dropped whole.
func Style(input string) string {
	out := &strings.Builder{}
	d := &declaration{}
	flush := func(term bool) {
		if d.started && d.keep {
			out.WriteString(d.b.String())
			if term {
				out.WriteByte(';')
			}
		}
		d.reset()
	}

	scan := scanner.New(input)
	for {
		t := scan.Next()
		switch t.Type {
		case scanner.TokenEOF:
			flush(false)
			return out.String()
		case scanner.TokenError:
			return ""
		}

		if t.Type == scanner.TokenChar && t.Value == ";" {
			flush(true)
			continue
		}
		if !d.started {
			if t.Type == scanner.TokenS {
				continue
			}
			d.started = true
			d.keep = t.Type == scanner.TokenIdent && allowedProperties[strings.ToLower(t.Value)]
		}
		if t.Type == scanner.TokenURI || t.Type == scanner.TokenFunction {
			d.keep = false
		}
		d.b.WriteString(t.Value)
	}
}
