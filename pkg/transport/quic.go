package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/pkg/wire"
)

const (
	alpn             = "zephyrdtn"
	defaultQUICPort  = "4269"
	handshakeTimeout = 3 * time.Second
	idleTimeout      = 30 * time.Second
	sendTimeout      = 5 * time.Second
	// redialBackoff keeps a peer that failed to dial from being dialled
	// again for every queued frame.
	redialBackoff = 2 * time.Second
	peerQueueSize = 128
)

// QUIC keeps one connection per peer and sends each frame on its own stream.
// Peers are addressed by node id and resolved through a Book. Send and
// Broadcast only queue: a goroutine per peer dials and writes, and failures
// of unicast frames are reported through the failure handler. Peers are not
// authenticated: certificates are throwaway and clients do not verify them.
type QUIC struct {
	self     string
	book     *Book
	log      *zap.Logger
	listener *quic.Listener
	client   *tls.Config
	conf     *quic.Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handler Handler
	failed  FailureHandler
	peers   map[string]*peerConn
	closed  atomic.Bool
}

// ListenQUIC binds addr. Call Serve to start accepting.
func ListenQUIC(addr, self string, book *Book, log *zap.Logger) (*QUIC, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("transport: tls cert: %w", err)
	}
	conf := &quic.Config{
		HandshakeIdleTimeout: handshakeTimeout,
		MaxIdleTimeout:       idleTimeout,
	}
	ln, err := quic.ListenAddr(addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}, conf)
	if err != nil {
		return nil, fmt.Errorf("transport: quic listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QUIC{
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[string]*peerConn),
		self:     self,
		book:     book,
		log:      log.With(zap.String("transport", "quic")),
		listener: ln,
		client: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
		},
		conf: conf,
	}, nil
}

func (q *QUIC) Addr() net.Addr { return q.listener.Addr() }

func (q *QUIC) OnReceive(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// OnSendFailure installs the handler for unicast frames that could not be
// delivered after Send accepted them. It runs on the peer's goroutine.
func (q *QUIC) OnSendFailure(h FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = h
}

// Serve accepts connections until ctx is done or the transport is closed.
func (q *QUIC) Serve(ctx context.Context) error {
	for {
		conn, err := q.listener.Accept(ctx)
		if err != nil {
			if q.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: quic accept: %w", err)
		}
		go q.serveConn(ctx, conn)
	}
}

func (q *QUIC) serveConn(ctx context.Context, conn *quic.Conn) {
	from := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			q.log.Debug("quic connection done", zap.String("remote", from), zap.Error(err))
			return
		}
		go q.readStream(from, stream)
	}
}

func (q *QUIC) readStream(from string, s *quic.Stream) {
	_ = s.SetReadDeadline(time.Now().Add(sendTimeout))
	data, err := io.ReadAll(io.LimitReader(s, wire.MaxFrameSize+1))
	// acknowledge before handling so the sender's node is not held up by ours
	s.Close()
	if err != nil {
		q.log.Debug("quic read", zap.String("remote", from), zap.Error(err))
		return
	}
	if len(data) == 0 || len(data) > wire.MaxFrameSize {
		q.log.Debug("quic frame dropped", zap.String("remote", from), zap.Int("bytes", len(data)))
		return
	}
	q.mu.RLock()
	h := q.handler
	q.mu.RUnlock()
	if h != nil {
		h(from, data)
	}
}

// Send queues data for peer and returns without waiting for the network.
// It fails at once only when the peer has no address or its queue is full.
func (q *QUIC) Send(_ context.Context, peer string, data []byte) error {
	return q.enqueue(peer, data, true)
}

// Broadcast queues data for every peer in the book except this node and
// returns how many queues took it. Delivery failures are only logged.
func (q *QUIC) Broadcast(_ context.Context, data []byte) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	for _, id := range q.book.IDs() {
		if id == q.self {
			continue
		}
		if err := q.enqueue(id, data, false); err != nil {
			q.log.Debug("beacon not queued", zap.String("peer", id), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (q *QUIC) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	q.cancel()
	return q.listener.Close()
}

func (q *QUIC) enqueue(peer string, data []byte, report bool) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if _, ok := q.book.Lookup(peer); !ok {
		return fmt.Errorf("%w: no address for %s", ErrUnreachable, peer)
	}
	p := q.peer(peer)
	select {
	case p.out <- outFrame{data: append([]byte(nil), data...), report: report}:
		return nil
	default:
		return fmt.Errorf("%w: send queue to %s full", ErrUnreachable, peer)
	}
}

func (q *QUIC) peer(id string) *peerConn {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.peers[id]; ok {
		return p
	}
	p := &peerConn{id: id, q: q, out: make(chan outFrame, peerQueueSize)}
	q.peers[id] = p
	go p.run(q.ctx)
	return p
}

func (q *QUIC) reportFailure(peer string, err error) {
	q.mu.RLock()
	h := q.failed
	q.mu.RUnlock()
	if h != nil {
		h(peer, err)
	}
}

type outFrame struct {
	data   []byte
	report bool
}

// peerConn owns the outbound connection to one peer. Only run touches conn
// and downUntil.
type peerConn struct {
	id  string
	q   *QUIC
	out chan outFrame

	conn      *quic.Conn
	downUntil time.Time
}

func (p *peerConn) run(ctx context.Context) {
	defer func() {
		if p.conn != nil {
			p.conn.CloseWithError(0, "")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.out:
			if err := p.write(ctx, f.data); err != nil {
				p.q.log.Debug("quic frame not delivered", zap.String("peer", p.id), zap.Error(err))
				if f.report {
					p.q.reportFailure(p.id, err)
				}
			}
		}
	}
}

// write sends one frame, redialling once when the kept connection has gone
// stale.
func (p *peerConn) write(ctx context.Context, data []byte) error {
	if time.Now().Before(p.downUntil) {
		return fmt.Errorf("%w: %s recently failed to dial", ErrUnreachable, p.id)
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if p.conn == nil {
			if err = p.dial(ctx); err != nil {
				p.downUntil = time.Now().Add(redialBackoff)
				return err
			}
		}
		if err = p.writeStream(ctx, data); err == nil {
			return nil
		}
		p.conn.CloseWithError(0, "")
		p.conn = nil
	}
	return err
}

func (p *peerConn) dial(ctx context.Context) error {
	hp, ok := p.q.book.Lookup(p.id)
	if !ok {
		return fmt.Errorf("%w: no address for %s", ErrUnreachable, p.id)
	}
	dctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dctx, NormalizeHostPort(hp, defaultQUICPort), p.q.client, p.q.conf)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnreachable, p.id, err)
	}
	p.conn = conn
	return nil
}

func (p *peerConn) writeStream(ctx context.Context, data []byte) error {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	stream, err := p.conn.OpenStreamSync(sctx)
	if err != nil {
		return fmt.Errorf("transport: open stream to %s: %w", p.id, err)
	}
	// nothing is read back; the receiver closes its side after reading
	stream.CancelRead(0)
	_ = stream.SetWriteDeadline(time.Now().Add(sendTimeout))
	if _, err := stream.Write(data); err != nil {
		return fmt.Errorf("transport: write to %s: %w", p.id, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("transport: close stream to %s: %w", p.id, err)
	}
	return nil
}

func selfSignedCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
