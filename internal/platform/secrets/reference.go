package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reference is a parsed secret URI such as secret://stripe/api-key?version=3&project=shop-prod.
// sm:// is accepted as a shorthand for secret://.
type Reference struct {
	// Name is the URI without query, used for caching and version pins.
	Name string
	// Secret is the Secret Manager secret id; path separators become underscores.
	Secret  string
	Version string
	Project string
}

// ParseReference validates raw and splits it into its parts.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	path := strings.Trim(u.Host+u.Path, "/")
	if path == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return Reference{
		Name:    "secret://" + path,
		Secret:  strings.ReplaceAll(path, "/", "_"),
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// FallbackKey maps a secret id to its key in the local fallback file: "stripe_api_key" and
// "stripe/api-key" both become "STRIPE_API_KEY".
func FallbackKey(secret string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return '_'
	}, secret)
}
