package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Format is a string format constraint.
type Format string

const (
	FormatNone      Format = ""
	FormatURL       Format = "url"
	FormatUUID      Format = "uuid"
	FormatTimestamp Format = "iso8601"
	FormatMJML      Format = "mjml"
	FormatHexColor  Format = "hex_color"
)

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// CheckFormat returns a descriptive error if v does not match f.
func CheckFormat(f Format, v string) error {
	switch f {
	case FormatNone:
		return nil
	case FormatURL:
		u, err := url.ParseRequestURI(v)
		if err != nil {
			return fmt.Errorf("not a valid URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("URL scheme must be http or https")
		}
		if u.Host == "" {
			return fmt.Errorf("URL has no host")
		}
		return nil
	case FormatUUID:
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("not a valid UUID")
		}
		return nil
	case FormatTimestamp:
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return fmt.Errorf("not an ISO-8601 timestamp")
		}
		return nil
	case FormatHexColor:
		if !hexColorRe.MatchString(v) {
			return fmt.Errorf("not a hex color")
		}
		return nil
	case FormatMJML:
		return CheckMJML(v)
	}
	return fmt.Errorf("unknown format %q", f)
}
