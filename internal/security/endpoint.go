package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedEndpoint is returned for URLs the server must not call.
var ErrBlockedEndpoint = errors.New("endpoint not allowed")

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// EndpointPolicy decides which URLs the server may send requests to, such
// as webhook targets registered by acquirers.
type EndpointPolicy struct {
	// AllowPrivate permits loopback and private addresses. Development only.
	AllowPrivate bool
	// RequireHTTPS rejects plain http URLs.
	RequireHTTPS bool
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

// Validate checks rawURL against the policy. Host names are resolved and
// every resolved address is checked.
func (p EndpointPolicy) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrBlockedEndpoint)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if p.RequireHTTPS {
			return fmt.Errorf("%w: URL scheme must be https", ErrBlockedEndpoint)
		}
	default:
		return fmt.Errorf("%w: URL scheme must be http or https", ErrBlockedEndpoint)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: URL must have a host", ErrBlockedEndpoint)
	}
	if p.AllowPrivate {
		return nil
	}

	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: host %q", ErrBlockedEndpoint, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve host %s", ErrBlockedEndpoint, host)
	}
	for _, addr := range addrs {
		if err := checkIP(addr.IP); err != nil {
			return fmt.Errorf("host %q resolves to a blocked address: %w", host, err)
		}
	}
	return nil
}

// ValidateEndpointURL validates rawURL with the default, strict policy.
func ValidateEndpointURL(ctx context.Context, rawURL string) error {
	return EndpointPolicy{}.Validate(ctx, rawURL)
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback address", ErrBlockedEndpoint)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private address", ErrBlockedEndpoint)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address", ErrBlockedEndpoint)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified address", ErrBlockedEndpoint)
	}
	return nil
}
