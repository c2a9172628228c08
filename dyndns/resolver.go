// Package dyndns checks dynamic-DNS hostnames attached to node locations.
// A location that carries a hostname is expected to keep it pointed at the
// node; the resolver reports the addresses the name currently resolves to.
package dyndns

import (
	"fmt"

	"github.com/miekg/dns"
)

// DefaultServer is the systemd-resolved stub listener used when no server is
// configured.
const DefaultServer = "127.0.0.53:53"

// Resolver queries a DNS server for the addresses behind a hostname.
type Resolver struct {
	// Server is the host:port of the DNS server to query.
	Server string
}

// NewResolver creates a resolver against the given server, falling back to
// DefaultServer when empty.
func NewResolver(server string) *Resolver {
	if server == "" {
		server = DefaultServer
	}
	return &Resolver{Server: server}
}

// Resolve returns the A and AAAA addresses the hostname currently points at.
// A name that resolves to nothing is an error: a location's dynamic-DNS entry
// is expected to exist.
func (r *Resolver) Resolve(host string) ([]string, error) {
	fqdn := dns.Fqdn(host)

	addrs, err := r.query(fqdn, dns.TypeA)
	if err != nil {
		return nil, err
	}

	addrsV6, err := r.query(fqdn, dns.TypeAAAA)
	if err != nil {
		return nil, err
	}
	addrs = append(addrs, addrsV6...)

	if len(addrs) == 0 {
		return nil, fmt.Errorf("hostname %s does not resolve to any address", host)
	}
	return addrs, nil
}

func (r *Resolver) query(fqdn string, qtype uint16) ([]string, error) {
	m1 := new(dns.Msg)
	m1.Id = dns.Id()
	m1.RecursionDesired = true
	m1.Question = make([]dns.Question, 1)
	m1.Question[0] = dns.Question{Name: fqdn, Qtype: qtype, Qclass: dns.ClassINET}

	c := new(dns.Client)
	in, _, err := c.Exchange(m1, r.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.Server, err)
	}

	addrs := make([]string, 0, len(in.Answer))
	for _, answer := range in.Answer {
		switch record := answer.(type) {
		case *dns.A:
			addrs = append(addrs, record.A.String())
		case *dns.AAAA:
			addrs = append(addrs, record.AAAA.String())
		}
	}

	return addrs, nil
}
