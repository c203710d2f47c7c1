package loader

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
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"imgspan/config"
)

// readLimited reads up to limit bytes from r, larger content is refused.
// Non-positive limit means no limit.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// limit+1 detects overflow
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("content exceeds maximum allowed size (%d bytes)", limit)
	}
	return data, nil
}

// httpTransport reads http and https sources.
type httpTransport struct {
	plain     *http.Client
	browser   *http.Client // nil when plain client is used for https too
	userAgent string
	log       *zap.Logger
}

func newHTTPTransport(cfg *config.TransportConfig, log *zap.Logger) (*httpTransport, error) {
	t := &httpTransport{
		userAgent: cfg.UserAgent,
		log:       log,
	}

	var proxy *url.URL
	if len(cfg.Proxy) > 0 {
		u, err := cfg.Proxy.URL()
		if err != nil {
			return nil, fmt.Errorf("unable to use proxy: %w", err)
		}
		proxy = u
	}

	dial := guardedDialContext(&net.Dialer{Timeout: cfg.Timeout}, cfg.AllowPrivate)
	t.plain = newPlainClient(dial, proxy, cfg.Timeout)

	// browser fingerprint cannot tunnel through CONNECT proxy
	if cfg.BrowserTLS && proxy == nil {
		t.browser = newBrowserClient(dial, cfg.Timeout)
	}
	return t, nil
}

func newPlainClient(dial dialFunc, proxy *url.URL, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext:       dial,
		ForceAttemptHTTP2: true,
	}
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// read fetches u, bodies larger than positive limit are refused.
func (t *httpTransport) read(ctx context.Context, u *url.URL, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5")

	client := t.plain
	if u.Scheme == "https" && t.browser != nil {
		client = t.browser
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}
	if resp.ContentLength > 0 && limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("content length %d exceeds maximum allowed size (%d bytes)", resp.ContentLength, limit)
	}

	data, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, err
	}
	t.log.Debug("Fetched", zap.Stringer("url", u), zap.String("proto", resp.Proto), zap.Int("size", len(data)))
	return data, nil
}

func (t *httpTransport) close() {
	t.plain.CloseIdleConnections()
	if t.browser != nil {
		t.browser.CloseIdleConnections()
	}
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// newBrowserClient creates client presenting browser TLS fingerprint for
// https, routing to HTTP/1.1 or HTTP/2 by negotiated ALPN.
func newBrowserClient(dial dialFunc, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &browserTransport{
			dial: dial,
			h1:   &http.Transport{DialContext: dial},
			h2:   &http2.Transport{},
		},
	}
}

type browserTransport struct {
	dial dialFunc
	h1   *http.Transport
	h2   *http2.Transport
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := bt.dial(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}
	return &utlsConn{tlsConn}, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == http2.NextProtoTLS {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2conn.RoundTrip(req)
	}

	// one-shot transport over already negotiated connection
	transport := &http.Transport{
		DialTLSContext: func(context.Context, string, string) (net.Conn, error) {
			return conn, nil
		},
		DisableKeepAlives: true,
	}
	return transport.RoundTrip(req)
}

func (bt *browserTransport) CloseIdleConnections() {
	bt.h1.CloseIdleConnections()
	bt.h2.CloseIdleConnections()
}
