package schema

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// mjmlParents lists, for each MJML tag, the tags it may appear directly inside.
var mjmlParents = map[string][]string{
	"mjml":                 nil,
	"mj-head":              {"mjml"},
	"mj-body":              {"mjml"},
	"mj-title":             {"mj-head"},
	"mj-preview":           {"mj-head"},
	"mj-attributes":        {"mj-head"},
	"mj-style":             {"mj-head"},
	"mj-font":              {"mj-head"},
	"mj-breakpoint":        {"mj-head"},
	"mj-html-attributes":   {"mj-head"},
	"mj-wrapper":           {"mj-body"},
	"mj-section":           {"mj-body", "mj-wrapper"},
	"mj-hero":              {"mj-body", "mj-wrapper"},
	"mj-group":             {"mj-section"},
	"mj-column":            {"mj-section", "mj-group"},
	"mj-text":              {"mj-column", "mj-hero"},
	"mj-image":             {"mj-column", "mj-hero"},
	"mj-button":            {"mj-column", "mj-hero"},
	"mj-divider":           {"mj-column", "mj-hero"},
	"mj-spacer":            {"mj-column", "mj-hero"},
	"mj-table":             {"mj-column", "mj-hero"},
	"mj-social":            {"mj-column", "mj-hero"},
	"mj-navbar":            {"mj-column", "mj-hero"},
	"mj-carousel":          {"mj-column", "mj-hero"},
	"mj-accordion":         {"mj-column", "mj-hero"},
	"mj-raw":               {"mj-head", "mj-body", "mj-wrapper", "mj-section", "mj-column", "mj-hero"},
	"mj-social-element":    {"mj-social"},
	"mj-navbar-link":       {"mj-navbar"},
	"mj-carousel-image":    {"mj-carousel"},
	"mj-accordion-element": {"mj-accordion"},
	"mj-accordion-title":   {"mj-accordion-element"},
	"mj-accordion-text":    {"mj-accordion-element"},
}

// Tags whose children are free-form (HTML or attribute defaults).
var mjmlOpaque = map[string]bool{
	"mj-text":            true,
	"mj-button":          true,
	"mj-table":           true,
	"mj-raw":             true,
	"mj-attributes":      true,
	"mj-style":           true,
	"mj-title":           true,
	"mj-preview":         true,
	"mj-html-attributes": true,
	"mj-social-element":  true,
	"mj-navbar-link":     true,
	"mj-accordion-title": true,
	"mj-accordion-text":  true,
}

// CheckMJML verifies that src is well-formed MJML: balanced tags, an mjml
// root, and only permitted parent/child nesting. The body of a free-form tag
// is lenient HTML and is only scanned for its closing tag, so text such as
// "a < b" or an unclosed <p> inside <mj-text> is accepted.
func CheckMJML(src string) error {
	if strings.TrimSpace(src) == "" {
		return errors.New("empty MJML document")
	}
	var stack []string
	sawRoot := false
	base := 0
	d := newMJMLDecoder(src)
	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed markup: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			if len(stack) == 0 {
				if sawRoot {
					return fmt.Errorf("multiple root elements: <%s>", name)
				}
				if name != "mjml" {
					return fmt.Errorf("root element must be <mjml>, got <%s>", name)
				}
				sawRoot = true
				stack = append(stack, name)
				continue
			}
			parents, known := mjmlParents[name]
			if !known {
				return fmt.Errorf("unknown tag <%s> inside <%s>", name, stack[len(stack)-1])
			}
			if !contains(parents, stack[len(stack)-1]) {
				return fmt.Errorf("<%s> cannot be nested in <%s>", name, stack[len(stack)-1])
			}
			stack = append(stack, name)

			end := base + int(d.InputOffset())
			if !mjmlOpaque[name] || strings.HasSuffix(src[:end], "/>") {
				continue
			}
			next, ok := skipOpaque(src, end, name)
			if !ok {
				return fmt.Errorf("unclosed tag <%s>", name)
			}
			stack = stack[:len(stack)-1]
			base = next
			d = newMJMLDecoder(src[base:])
		case xml.EndElement:
			name := strings.ToLower(t.Name.Local)
			if len(stack) == 0 {
				return fmt.Errorf("unexpected closing tag </%s>", name)
			}
			top := stack[len(stack)-1]
			if top != name {
				return fmt.Errorf("unexpected closing tag </%s>, expected </%s>", name, top)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 && strings.TrimSpace(string(t)) != "" {
				return errors.New("text outside the <mjml> root")
			}
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed tag <%s>", stack[len(stack)-1])
	}
	if !sawRoot {
		return errors.New("missing <mjml> root element")
	}
	return nil
}

func newMJMLDecoder(src string) *xml.Decoder {
	d := xml.NewDecoder(strings.NewReader(src))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	return d
}

// skipOpaque returns the offset just past the </name> that closes a
// free-form tag whose content starts at from.
func skipOpaque(src string, from int, name string) (int, bool) {
	for i := from; i < len(src); {
		j := strings.Index(src[i:], "</")
		if j < 0 {
			return 0, false
		}
		i += j + 2
		if len(src)-i < len(name) || !strings.EqualFold(src[i:i+len(name)], name) {
			continue
		}
		k := i + len(name)
		for k < len(src) && (src[k] == ' ' || src[k] == '\t' || src[k] == '\n' || src[k] == '\r') {
			k++
		}
		if k < len(src) && src[k] == '>' {
			return k + 1, true
		}
	}
	return 0, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
