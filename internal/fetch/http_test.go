package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.RatePerSecond = 0
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

// newTestTransport returns a plain transport whose sleeps are recorded instead of taken.
func newTestTransport(opts Options) (*HTTPTransport, *[]time.Duration) {
	tr := NewHTTPTransport(opts)
	var slept []time.Duration
	tr.retry.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return tr, &slept
}

func TestHTTPTransport_SendsBrowserIdentity(t *testing.T) {
	var gotUA, gotReferer, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotLang = r.Header.Get("Accept-Language")
		w.Write([]byte("<html><h1>Galaxy S24</h1></html>"))
	}))
	defer srv.Close()

	tr, _ := newTestTransport(testOptions())
	resp, err := tr.Fetch(context.Background(), Request{URL: srv.URL + "/phone.php"})
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Text(), "Galaxy S24")
	assert.Contains(t, gotUA, "Chrome/120")
	assert.Equal(t, srv.URL+"/", gotReferer)
	assert.Equal(t, "en-US,en;q=0.9", gotLang)
}

func TestHTTPTransport_Classification(t *testing.T) {
	tests := []struct {
		name      string
		handler   func(hits int32, w http.ResponseWriter)
		wantErr   error
		wantHits  int32
		wantSleep []time.Duration
	}{
		{
			name: "captcha page exhausts retries",
			handler: func(_ int32, w http.ResponseWriter) {
				w.Write([]byte("<html>Please complete the CAPTCHA</html>"))
			},
			wantErr:  ErrBotChallenge,
			wantHits: 3,
		},
		{
			name: "rate limited then ok",
			handler: func(hits int32, w http.ResponseWriter) {
				if hits == 1 {
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				w.Write([]byte("<html>ok</html>"))
			},
			wantHits:  2,
			wantSleep: []time.Duration{5 * time.Second},
		},
		{
			name: "not found is terminal",
			handler: func(_ int32, w http.ResponseWriter) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr:  ErrHTTPStatus,
			wantHits: 1,
		},
		{
			name: "forbidden is a soft block",
			handler: func(_ int32, w http.ResponseWriter) {
				w.WriteHeader(http.StatusForbidden)
			},
			wantErr:  ErrAccessDenied,
			wantHits: 3,
		},
		{
			name: "server error then ok",
			handler: func(hits int32, w http.ResponseWriter) {
				if hits < 3 {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.Write([]byte("fine"))
			},
			wantHits: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.handler(atomic.AddInt32(&hits, 1), w)
			}))
			defer srv.Close()

			tr, slept := newTestTransport(testOptions())
			resp, err := tr.Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 3})

			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
			if tt.wantSleep != nil {
				assert.Equal(t, tt.wantSleep, *slept)
			}
		})
	}
}

func TestHTTPTransport_RateLimitBackoffDoubles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr, slept := newTestTransport(testOptions())
	_, err := tr.Fetch(context.Background(), Request{URL: srv.URL, MaxRetries: 3})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *slept)
}

func TestHTTPTransport_DecodesCompressedBodies(t *testing.T) {
	payload := "<html><title>Pixel 8 - GSMArena.com</title></html>"

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write([]byte(payload))
	gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write([]byte(payload))
	bw.Close()

	var zl bytes.Buffer
	zw := zlib.NewWriter(&zl)
	zw.Write([]byte(payload))
	zw.Close()

	var raw bytes.Buffer
	fw, _ := flate.NewWriter(&raw, flate.DefaultCompression)
	fw.Write([]byte(payload))
	fw.Close()

	cases := map[string]struct {
		encoding string
		body     []byte
	}{
		"gzip":        {"gzip", gz.Bytes()},
		"br":          {"br", br.Bytes()},
		"deflate":     {"deflate", zl.Bytes()},
		"raw deflate": {"deflate", raw.Bytes()},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			encoding, body := tc.encoding, tc.body
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				w.Write(body)
			}))
			defer srv.Close()

			tr, _ := newTestTransport(testOptions())
			resp, err := tr.Fetch(context.Background(), Request{URL: srv.URL})
			require.NoError(t, err)
			assert.Equal(t, payload, resp.Text())
		})
	}
}

func TestHTTPTransport_DeadProxyFailsFast(t *testing.T) {
	opts := testOptions()
	opts.Proxies = NewProxyPool([]Proxy{
		{"http": "http://127.0.0.1:1", "https": "http://127.0.0.1:1"},
		{"http": "http://127.0.0.1:2", "https": "http://127.0.0.1:2"},
	})

	tr, slept := newTestTransport(opts)
	_, err := tr.Fetch(context.Background(), Request{URL: "http://example.invalid/", MaxRetries: 2})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProxyFailed)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, *slept)
	assert.Equal(t, 0, opts.Proxies.Healthy())
}

func TestHTTPTransport_RespectsRobots(t *testing.T) {
	var pageHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		atomic.AddInt32(&pageHits, 1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.RespectRobots = true
	tr, _ := newTestTransport(opts)

	_, err := tr.Fetch(context.Background(), Request{URL: srv.URL + "/private/page"})
	assert.ErrorIs(t, err, ErrDisallowed)

	resp, err := tr.Fetch(context.Background(), Request{URL: srv.URL + "/public"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int32(1), atomic.LoadInt32(&pageHits))
}

func TestHTTPTransport_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, _ := newTestTransport(testOptions())
	_, err := tr.Fetch(ctx, Request{URL: "http://example.invalid/"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetector(t *testing.T) {
	d := NewDetector(nil)

	marker, ok := d.Match("<title>Just a moment...</title>")
	assert.True(t, ok)
	assert.Equal(t, "just a moment", marker)

	assert.False(t, d.IsBlocked(`<meta name="robots" content="index"><h1>Galaxy</h1>`))

	custom := NewDetector([]string{" Robot "})
	assert.True(t, custom.IsBlocked("Are you a ROBOT?"))
}

func TestHasChallengePrefix(t *testing.T) {
	clean := &Response{Body: []byte(strings.Repeat("a", 6000) + "cloudflare")}
	assert.False(t, HasChallengePrefix(clean), "markers after the prefix window are ignored")

	challenged := &Response{Body: []byte("<html>Protected by Cloudflare</html>")}
	assert.True(t, HasChallengePrefix(challenged))
}
