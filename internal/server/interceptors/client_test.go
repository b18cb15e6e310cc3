package interceptors

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name string
		md   map[string]string
		want string
	}{
		{"x-forwarded-for", map[string]string{"x-forwarded-for": "192.168.1.1"}, "192.168.1.1"},
		{"x-forwarded-for with comma", map[string]string{"x-forwarded-for": "192.168.1.1, 10.0.0.1"}, "192.168.1.1"},
		{"x-real-ip", map[string]string{"x-real-ip": "192.168.1.2"}, "192.168.1.2"},
		{"precedence", map[string]string{"x-forwarded-for": "192.168.1.1", "x-real-ip": "192.168.1.2"}, "192.168.1.1"},
		{"whitespace", map[string]string{"x-forwarded-for": "  192.168.1.1  "}, "192.168.1.1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.New(tc.md))
			if ip := ClientIP(ctx); ip != tc.want {
				t.Errorf("ip = %q, want %q", ip, tc.want)
			}
		})
	}
}

func TestClientIP_PeerAddress(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.3"), Port: 12345},
	})
	if ip := ClientIP(ctx); ip != "192.168.1.3" {
		t.Errorf("ip = %q, want %q", ip, "192.168.1.3")
	}
}

func TestClientIP_Unknown(t *testing.T) {
	if ip := ClientIP(context.Background()); ip != "unknown" {
		t.Errorf("ip = %q, want %q", ip, "unknown")
	}
}

func TestAuthority(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		":authority": "acme.example.com:443",
		"user-agent": "grpc-go/1.7",
	}))
	if got := Authority(ctx); got != "acme.example.com:443" {
		t.Errorf("Authority = %q", got)
	}
	if got := UserAgent(ctx); got != "grpc-go/1.7" {
		t.Errorf("UserAgent = %q", got)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{"host": "globex.example.com"}))
	if got := Authority(ctx); got != "globex.example.com" {
		t.Errorf("Authority fallback = %q", got)
	}
	if got := Authority(context.Background()); got != "" {
		t.Errorf("Authority without metadata = %q", got)
	}
}
