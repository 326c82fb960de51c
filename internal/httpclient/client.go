// Package httpclient builds the *http.Client used for streaming requests.
//
// Clients never set http.Client.Timeout: a stream lasts as long as its
// context. The "chrome" transport mimics Chrome's TLS fingerprint using uTLS
// for servers that sit behind JA3-filtering proxies.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const (
	TransportDefault = "default"
	TransportChrome  = "chrome"

	defaultDialTimeout = 30 * time.Second
)

// Config selects and tunes the transport.
type Config struct {
	// Transport is TransportDefault (or empty) or TransportChrome.
	Transport string
	// DialTimeout bounds connection setup only. Defaults to 30s.
	DialTimeout time.Duration
}

// New returns an *http.Client for cfg.
func New(cfg Config) (*http.Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	plain := http.DefaultTransport.(*http.Transport).Clone()
	plain.DialContext = dialer.DialContext
	plain.TLSHandshakeTimeout = cfg.DialTimeout

	switch cfg.Transport {
	case "", TransportDefault:
		return &http.Client{Transport: plain}, nil
	case TransportChrome:
		return &http.Client{Transport: &chromeTransport{dialer: dialer, plain: plain}}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", cfg.Transport, TransportDefault, TransportChrome)
	}
}

// Default returns a client on the default transport.
func Default() *http.Client {
	c, _ := New(Config{})
	return c
}

// chromeTransport implements http.RoundTripper with a uTLS Chrome
// fingerprint. Each HTTPS request gets its own TLS connection, which is
// closed together with the response body.
type chromeTransport struct {
	dialer *net.Dialer
	plain  http.RoundTripper
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	host := req.URL.Hostname()
	addr := net.JoinHostPort(host, portFromURL(req.URL))

	rawConn, err := t.dialer.DialContext(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName: host,
		NextProtos: []string{"h2", "http/1.1"},
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(req.Context()); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}

	var rt http.RoundTripper
	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		rt = &http2.Transport{
			DialTLSContext: func(_ context.Context, _, _ string, _ *tls.Config) (net.Conn, error) {
				return tlsConn, nil
			},
		}
	} else {
		rt = &http.Transport{
			DialTLSContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return tlsConn, nil
			},
			DisableKeepAlives: true,
		}
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		_ = tlsConn.Close()
		return nil, err
	}
	resp.Body = &connClosingBody{ReadCloser: resp.Body, conn: tlsConn}
	return resp, nil
}

// connClosingBody closes the dedicated connection along with the body.
type connClosingBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connClosingBody) Close() error {
	err := b.ReadCloser.Close()
	_ = b.conn.Close()
	return err
}

func portFromURL(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
