package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/proto"
)

const (
	alpnProto        = "peergram-quic"
	quicIdleTimeout  = 60 * time.Second
	quicKeepAlive    = 15 * time.Second
	maxConnsPerIP    = 8
	acceptStreamWait = 10 * time.Second
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives a deterministic self-signed certificate. Every node in
// a deployment pins the same cert, which is adequate for the mesh because
// identity is established by the handshake frame, not by TLS.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("peergram-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(20 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProto},
	}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{alpnProto},
	}, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicKeepAlive,
	}
}

// QUICTransport implements Transport over quic-go. Each channel is one QUIC
// connection with a single bidirectional stream carrying length-prefixed
// frames; the dialer opens the stream, the acceptor awaits it.
type QUICTransport struct {
	listener *quic.Listener
	addr     string
	limiter  *ipLimiter
	closed   chan struct{}
	once     sync.Once
}

func ListenQUIC(addr string) (*QUICTransport, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	debuglog.Debugf("quic listen ready: %s", ln.Addr())
	return &QUICTransport{
		listener: ln,
		addr:     ln.Addr().String(),
		limiter:  newIPLimiter(maxConnsPerIP),
		closed:   make(chan struct{}),
	}, nil
}

func (t *QUICTransport) Addr() string { return t.addr }

func (t *QUICTransport) Dial(ctx context.Context, addr string) (Channel, error) {
	tlsConf, err := clientTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("quic open stream %s: %w", addr, err)
	}
	debuglog.Debugf("quic dialed %s", addr)
	return newQUICChannel(conn, stream, nil, ""), nil
}

func (t *QUICTransport) Accept(ctx context.Context) (Channel, error) {
	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			return nil, err
		}
		ip := remoteIP(conn.RemoteAddr())
		if !t.limiter.acquire(ip) {
			debuglog.RateLimitedf("accept-limit:"+ip, 30*time.Second, "transport: connection limit reached for %s", ip)
			_ = conn.CloseWithError(0, "too many connections")
			continue
		}
		streamCtx, cancel := context.WithTimeout(ctx, acceptStreamWait)
		stream, err := conn.AcceptStream(streamCtx)
		cancel()
		if err != nil {
			t.limiter.release(ip)
			_ = conn.CloseWithError(0, "no stream")
			continue
		}
		return newQUICChannel(conn, stream, t.limiter, ip), nil
	}
}

func (t *QUICTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		_ = t.listener.Close()
	})
	return nil
}

type quicChannel struct {
	conn    *quic.Conn
	stream  *quic.Stream
	writeMu sync.Mutex
	limiter *ipLimiter
	ip      string
	once    sync.Once
}

func newQUICChannel(conn *quic.Conn, stream *quic.Stream, limiter *ipLimiter, ip string) *quicChannel {
	return &quicChannel{conn: conn, stream: stream, limiter: limiter, ip: ip}
}

func (c *quicChannel) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return proto.WriteWire(c.stream, payload)
}

func (c *quicChannel) Recv() ([]byte, error) {
	return proto.ReadWire(c.stream)
}

func (c *quicChannel) Close() error {
	c.once.Do(func() {
		_ = c.stream.Close()
		_ = c.conn.CloseWithError(0, "closed")
		if c.limiter != nil {
			c.limiter.release(c.ip)
		}
	})
	return nil
}

func (c *quicChannel) RemoteAddr() string {
	if ra := c.conn.RemoteAddr(); ra != nil {
		return ra.String()
	}
	return ""
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
