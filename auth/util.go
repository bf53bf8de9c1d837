package auth

import (
	"net/url"
	"path"
	"strings"
)

// CallbackURL returns the absolute redirect URI to register with a provider
// for a handler mounted at basePath under publicURL.
func CallbackURL(publicURL, basePath, providerID string) string {
	publicURL = strings.TrimRight(publicURL, "/")
	u, err := url.Parse(publicURL)
	if err != nil {
		return publicURL + path.Join("/", basePath, DefaultPaths.Callback, providerID)
	}
	u.Path = path.Join("/", u.Path, basePath, DefaultPaths.Callback, providerID)
	return u.String()
}
