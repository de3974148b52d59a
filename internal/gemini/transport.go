package gemini

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Transport settings tuned for a small worker pool making repeated calls to
// one API host. HTTP/2 keeps all workers on a single multiplexed
// connection; PING-based liveness detects dead connections faster than TCP
// keep-alive alone.
var transportConfig = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	H2ReadIdleTimeout     time.Duration
	H2PingTimeout         time.Duration
}{
	MaxIdleConns:          20,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,
	H2ReadIdleTimeout:     30 * time.Second,
	H2PingTimeout:         15 * time.Second,
}

// newTransport builds the shared HTTP transport for the translation client.
func newTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          transportConfig.MaxIdleConns,
		MaxIdleConnsPerHost:   transportConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:       transportConfig.IdleConnTimeout,
		TLSHandshakeTimeout:   transportConfig.TLSHandshakeTimeout,
		ExpectContinueTimeout: transportConfig.ExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   transportConfig.DialTimeout,
			KeepAlive: transportConfig.KeepAlive,
		}).DialContext,
	}
	configureHTTP2(t)
	return t
}

func configureHTTP2(t *http.Transport) {
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return
	}
	h2.ReadIdleTimeout = transportConfig.H2ReadIdleTimeout
	h2.PingTimeout = transportConfig.H2PingTimeout
}
