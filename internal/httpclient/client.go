// Package httpclient builds the outbound HTTP clients: a retrying
// fetcher for subtitle downloads and a single-attempt notifier for
// completion callbacks. Both transports transparently decompress
// gzip, deflate, and brotli response bodies and stamp the vodarr
// User-Agent.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/vodarr/vodarr/internal/version"
)

const (
	fetchTimeout  = 15 * time.Second
	fetchRetries  = 3
	fetchWaitMin  = 1 * time.Second
	fetchWaitMax  = 5 * time.Second
	notifyTimeout = 5 * time.Second

	acceptEncodings = "gzip, deflate, br"
)

// NewFetcher returns the client used to download job assets such as
// subtitle tracks. Transient failures and 5xx responses are retried
// with exponential backoff.
func NewFetcher(logger *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = fetchRetries
	rc.RetryWaitMin = fetchWaitMin
	rc.RetryWaitMax = fetchWaitMax
	rc.Logger = leveledLogger{logger: logger.With(slog.String("component", "fetcher"))}

	client := rc.StandardClient()
	client.Timeout = fetchTimeout
	client.Transport = &decodingTransport{next: client.Transport, logger: logger}
	return client
}

// NewNotifier returns the client used for completion callbacks: one
// attempt, short timeout, best effort.
func NewNotifier(logger *slog.Logger) *http.Client {
	return &http.Client{
		Timeout: notifyTimeout,
		Transport: &decodingTransport{
			next:   cleanhttp.DefaultPooledTransport(),
			logger: logger,
		},
	}
}

// leveledLogger adapts slog to retryablehttp's LeveledLogger.
type leveledLogger struct {
	logger *slog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

// decodingTransport advertises compressed encodings and unwraps them on
// the way back. Setting Accept-Encoding explicitly disables net/http's
// automatic gzip handling, so all three encodings are handled here.
type decodingTransport struct {
	next   http.RoundTripper
	logger *slog.Logger
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncodings)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.ApplicationName+"/"+version.Version)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	switch encoding {
	case "":
		return resp, nil
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			t.logger.Warn("gzip reader failed, serving raw body", slog.Any("error", err))
			return resp, nil
		}
		resp.Body = &decodedBody{reader: reader, closer: resp.Body}
	case "deflate":
		resp.Body = &decodedBody{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		resp.Body = &decodedBody{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		t.logger.Debug("unknown content encoding, serving raw body",
			slog.String("encoding", encoding))
		return resp, nil
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return resp, nil
}

// decodedBody pairs a decompression reader with the network body so
// closing releases both.
type decodedBody struct {
	reader io.Reader
	closer io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decodedBody) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
}

// ObfuscateURL masks credential-looking query parameters for logging.
func ObfuscateURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := u.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
