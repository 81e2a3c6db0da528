package settings

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ValidateBaseURL checks that raw can serve as the base of API requests.
// Local hosts are fine, the backend commonly runs on localhost while
// developing.
func ValidateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid URL %q", raw)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return errors.Errorf("unsupported URL scheme %q in %q", parsed.Scheme, raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return errors.Errorf("base URL %q must not have a query or fragment", raw)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Errorf("URL %q has no host", raw)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Errorf("disallowed IP address %q", host)
		}
	}
	return nil
}
