package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURI indicates a string that is not an MSRP URI.
var ErrInvalidURI = errors.New("invalid MSRP URI")

const (
	// SchemeMSRP is the scheme of plain TCP sessions.
	SchemeMSRP = "msrp"
	// SchemeMSRPS is the scheme of TLS sessions.
	SchemeMSRPS = "msrps"
	// DefaultTransport is the transport parameter of TCP sessions.
	DefaultTransport = "tcp"
)

// URI is a parsed MSRP URI: msrp://host:port/session-id;tcp
type URI struct {
	Secure    bool
	Host      string
	Port      string
	SessionID string
	Transport string
}

// ParseURI parses an MSRP or MSRPS URI.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	var out URI
	switch strings.ToLower(u.Scheme) {
	case SchemeMSRP:
	case SchemeMSRPS:
		out.Secure = true
	default:
		return URI{}, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return URI{}, fmt.Errorf("%w: authority %q: %v", ErrInvalidURI, u.Host, err)
	}
	out.Host = host
	out.Port = port

	session, transport, found := strings.Cut(strings.TrimPrefix(u.Path, "/"), ";")
	if session == "" || !found || transport == "" {
		return URI{}, fmt.Errorf("%w: %q needs /session-id;transport", ErrInvalidURI, raw)
	}
	out.SessionID = session
	out.Transport = strings.ToLower(transport)
	return out, nil
}

// Address returns host:port for dialing.
func (u URI) Address() string {
	return net.JoinHostPort(u.Host, u.Port)
}

// String formats the URI.
func (u URI) String() string {
	scheme := SchemeMSRP
	if u.Secure {
		scheme = SchemeMSRPS
	}
	return fmt.Sprintf("%s://%s/%s;%s", scheme, u.Address(), u.SessionID, u.Transport)
}
