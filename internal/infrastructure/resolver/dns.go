// Package resolver performs non-blocking A-record lookups over a UDP
// descriptor that the event loop polls.
package resolver

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"

	"ptybridge/internal/domain"
	"ptybridge/internal/infrastructure/network"
)

// ErrNoRecords means the answer carried no A record.
var ErrNoRecords = errors.New("dns answer has no A records")

type DNSResolver struct {
	fd     int
	server *unix.SockaddrInet4
}

var _ domain.Resolver = &DNSResolver{}

// New creates a resolver sending queries to server, which must be IPv4.
func New(server netip.AddrPort) (*DNSResolver, error) {
	if !server.Addr().Unmap().Is4() {
		return nil, fmt.Errorf("resolver %s: only IPv4 servers are supported", server)
	}
	fd, err := network.BindUDP()
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp: %w", err)
	}
	return &DNSResolver{
		fd:     fd,
		server: &unix.SockaddrInet4{Port: int(server.Port()), Addr: server.Addr().Unmap().As4()},
	}, nil
}

func (r *DNSResolver) FD() int { return r.fd }

// Query sends an A query for host tagged with id.
func (r *DNSResolver) Query(host string, id uint16) error {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true
	m.Id = id

	packed, err := m.Pack()
	if err != nil {
		return fmt.Errorf("pack query for %s: %w", host, err)
	}
	return unix.Sendto(r.fd, packed, 0, r.server)
}

// ReadAnswer reads one response. The id is valid whenever the message
// could be unpacked, even if it carried no A record.
func (r *DNSResolver) ReadAnswer() (uint16, netip.Addr, error) {
	buf := make([]byte, 512)
	n, _, err := unix.Recvfrom(r.fd, buf, 0)
	if err != nil {
		return 0, netip.Addr{}, err
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(buf[:n]); err != nil {
		return 0, netip.Addr{}, fmt.Errorf("unpack dns response: %w", err)
	}

	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				return msg.Id, addr, nil
			}
		}
	}
	return msg.Id, netip.Addr{}, ErrNoRecords
}

func (r *DNSResolver) Close() error {
	return unix.Close(r.fd)
}
