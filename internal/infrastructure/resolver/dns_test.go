package resolver

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"
)

// startServer answers A queries for known names from a loopback UDP
// server and returns its address.
func startServer(t *testing.T, records map[string]string) netip.AddrPort {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		for _, q := range req.Question {
			if ip, ok := records[q.Name]; ok {
				resp.Answer = append(resp.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.ParseIP(ip),
				})
			}
		}
		w.WriteMsg(resp)
	})
	server := &dns.Server{PacketConn: pc, Handler: handler}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })
	return netip.MustParseAddrPort(pc.LocalAddr().String())
}

func waitReadable(t *testing.T, fd int) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int((5 * time.Second).Milliseconds()))
	if err != nil || n != 1 {
		t.Fatalf("poll = %d, %v", n, err)
	}
}

func TestDNSResolver(t *testing.T) {
	addr := startServer(t, map[string]string{"bastion.example.": "192.0.2.7"})
	r, err := New(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Query("bastion.example", 0x1234); err != nil {
		t.Fatal("query", err)
	}
	waitReadable(t, r.FD())
	id, ip, err := r.ReadAnswer()
	if err != nil {
		t.Fatal("answer", err)
	}
	if id != 0x1234 {
		t.Fatalf("id = %#x", id)
	}
	if want := netip.MustParseAddr("192.0.2.7"); ip != want {
		t.Fatalf("ip = %v, want %v", ip, want)
	}
}

func TestDNSResolver_NoRecords(t *testing.T) {
	addr := startServer(t, nil)
	r, err := New(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Query("missing.example", 7); err != nil {
		t.Fatal("query", err)
	}
	waitReadable(t, r.FD())
	id, _, err := r.ReadAnswer()
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("got %v, want %v", err, ErrNoRecords)
	}
	if id != 7 {
		t.Fatalf("id = %d", id)
	}
}

func TestDNSResolver_EmptyReadWouldBlock(t *testing.T) {
	r, err := New(netip.MustParseAddrPort("127.0.0.1:53"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, _, err := r.ReadAnswer(); !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("got %v, want EAGAIN", err)
	}
}

func TestNew_RejectsIPv6(t *testing.T) {
	if _, err := New(netip.MustParseAddrPort("[::1]:53")); err == nil {
		t.Fatal("expected an error for an IPv6 server")
	}
}
