package fetch

import (
	"fmt"
	"net/http"
	"net/url"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Identity is the static desktop-browser header set sent with every request.
type Identity struct {
	UserAgent string
	Headers   map[string]string
}

func DefaultIdentity() Identity {
	return Identity{
		UserAgent: DefaultUserAgent,
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Accept-Encoding":           "gzip, deflate, br",
			"DNT":                       "1",
			"Connection":                "keep-alive",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Sec-Ch-Ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			"Sec-Ch-Ua-Mobile":          "?0",
			"Sec-Ch-Ua-Platform":        `"Windows"`,
			"Cache-Control":             "max-age=0",
		},
	}
}

// HeadersFor returns the identity headers for rawURL, including a Referer
// pointing at the site root.
func (id Identity) HeadersFor(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	headers := make(map[string]string, len(id.Headers)+2)
	for k, v := range id.Headers {
		headers[k] = v
	}
	ua := id.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	headers["User-Agent"] = ua
	headers["Referer"] = u.Scheme + "://" + u.Host + "/"
	return headers, nil
}

func (id Identity) apply(req *http.Request) error {
	headers, err := id.HeadersFor(req.URL.String())
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}
