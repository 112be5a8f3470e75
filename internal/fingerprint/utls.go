package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names the TLS ClientHello a fetcher presents.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go" // standard crypto/tls
)

// ParseProfile maps a config value onto a Profile. An empty value selects
// ProfileChrome.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileChrome, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo:
		return p, nil
	default:
		return "", fmt.Errorf("fingerprint: unknown profile %q", s)
	}
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloSafari_Auto, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}

// Transport returns an http.RoundTripper whose TLS handshakes mimic the
// browser named by p, so the TLS layer agrees with the User-Agent header.
// ProfileGo returns a plain http.Transport. Proxies come from the environment.
func Transport(p Profile) (http.RoundTripper, error) {
	return newTransport(p, nil)
}

func newTransport(p Profile, base *utls.Config) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment

	if p == ProfileGo {
		if base != nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: base.InsecureSkipVerify}
		}
		return transport, nil
	}

	id, err := helloID(p)
	if err != nil {
		return nil, err
	}

	// Fail at construction rather than on the first dial.
	if _, err := browserSpec(id); err != nil {
		return nil, fmt.Errorf("fingerprint: %s spec: %w", p, err)
	}

	dialer := &net.Dialer{}
	transport.ForceAttemptHTTP2 = false
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		cfg := &utls.Config{}
		if base != nil {
			cfg = base.Clone()
		}
		cfg.ServerName = host

		spec, err := browserSpec(id)
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}

		uConn := utls.UClient(tcpConn, cfg, utls.HelloCustom)
		if err := uConn.ApplyPreset(&spec); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: apply preset: %w", err)
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return transport, nil
}

// browserSpec expands id into a fresh ClientHelloSpec. The browser presets
// advertise h2, but http.Transport can only speak HTTP/1.1 over a custom
// DialTLSContext conn, so ALPN is pinned to http/1.1.
func browserSpec(id utls.ClientHelloID) (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return utls.ClientHelloSpec{}, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}
