package kdb

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionMethod selects the transport.
type ConnectionMethod int

const (
	TCP ConnectionMethod = iota
	TLS
	UDS
)

// IPC capability level requested on connect and offered on accept.
const capabilityLevel byte = 6

// QStream is a connection to a q process (or a q client) speaking the
// framed IPC protocol.
type QStream struct {
	con      net.Conn
	dec      *FrameDecoder
	enc      *FrameEncoder
	mu       sync.Mutex // one sync request in flight
	wmu      sync.Mutex // serializes frame writes
	asyncQ   chan *Message
	log      zerolog.Logger
	listener bool
	scratch  []byte
}

func newQStream(con net.Conn, listener bool, cfg config) *QStream {
	s := &QStream{
		con:      con,
		dec:      &FrameDecoder{cfg: cfg},
		enc:      &FrameEncoder{cfg: cfg},
		log:      cfg.logger,
		listener: listener,
		scratch:  make([]byte, 64*1024),
	}
	if cfg.asyncDepth > 0 {
		s.asyncQ = make(chan *Message, cfg.asyncDepth)
	}
	return s
}

func (s *QStream) ok() bool {
	return s != nil && s.con != nil
}

// udsPath derives the abstract-namespace socket path for a port.
func udsPath(port int) string {
	root := os.Getenv("UDS_PATH_ROOT")
	if root == "" {
		root = "/tmp"
	}
	path := fmt.Sprintf("%s/kx.%d", root, port)
	if runtime.GOOS == "linux" {
		path = "@" + path
	}
	return path
}

func serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(os.Getenv("TLS_KEY_FILE"), os.Getenv("TLS_KEY_FILE_SECRET"))
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// clientHandshake writes credential, capability byte and NUL, then
// waits for the negotiated capability byte.
func clientHandshake(con net.Conn, credential string) error {
	msg := append([]byte(credential), capabilityLevel, 0)
	if _, err := con.Write(msg); err != nil {
		return err
	}
	var reply [1]byte
	if _, err := io.ReadFull(con, reply[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return nil
}

func isLoopback(con net.Conn) bool {
	addr, ok := con.RemoteAddr().(*net.TCPAddr)
	return ok && addr.IP.IsLoopback()
}

func tuneTCP(con net.Conn) {
	if c, ok := con.(*net.TCPConn); ok {
		_ = c.SetKeepAlive(true)
		_ = c.SetNoDelay(true)
	}
}

// Connect opens a transport to host:port, performs the credential
// handshake and returns a framed stream.
func Connect(method ConnectionMethod, host string, port int, credential string, opts ...Option) (*QStream, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	var con net.Conn
	var err error
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	switch method {
	case TCP:
		if con, err = net.Dial("tcp", addr); err != nil {
			return nil, err
		}
		tuneTCP(con)
		cfg.local = cfg.local || isLoopback(con)
	case TLS:
		if con, err = tls.Dial("tcp", addr, &tls.Config{ServerName: host}); err != nil {
			return nil, err
		}
	case UDS:
		if con, err = net.Dial("unix", udsPath(port)); err != nil {
			return nil, err
		}
		cfg.local = true
	default:
		return nil, fmt.Errorf("unknown connection method %d", method)
	}
	if err = clientHandshake(con, credential); err != nil {
		con.Close()
		return nil, err
	}
	return newQStream(con, false, cfg), nil
}

// Accept listens on the given endpoint, accepts a single connection,
// verifies its credential against the account file and returns the
// framed stream. Use ListenAndServe for a multi-connection acceptor.
func Accept(method ConnectionMethod, host string, port int, opts ...Option) (*QStream, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	ln, err := listen(method, host, port)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	con, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	tuneTCP(con)
	if method == UDS || isLoopback(con) {
		cfg.local = true
	}
	accounts, err := loadAccounts()
	if err != nil {
		con.Close()
		return nil, err
	}
	if err = serverHandshake(con, accounts); err != nil {
		con.Close()
		return nil, err
	}
	return newQStream(con, true, cfg), nil
}

func listen(method ConnectionMethod, host string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	switch method {
	case TCP:
		return net.Listen("tcp", addr)
	case TLS:
		tcfg, err := serverTLSConfig()
		if err != nil {
			return nil, err
		}
		return tls.Listen("tcp", addr, tcfg)
	case UDS:
		return net.Listen("unix", udsPath(port))
	}
	return nil, fmt.Errorf("unknown connection method %d", method)
}

// Send stages one frame and commits it to the wire.
func (s *QStream) Send(msgtype ReqType, data *K) error {
	if !s.ok() {
		return ErrConnClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.enc.Feed(msgtype, data); err != nil {
		return err
	}
	return s.enc.Flush(s.con)
}

// SendAsync sends data without awaiting any response.
func (s *QStream) SendAsync(data *K) error { return s.Send(ASYNC, data) }

// Respond sends a response frame for a previously received sync message.
func (s *QStream) Respond(data *K) error { return s.Send(RESPONSE, data) }

// Receive blocks until one whole message has been assembled. Bytes of a
// partially assembled frame stay buffered in the codec, so an abandoned
// call loses nothing.
func (s *QStream) Receive() (*Message, error) {
	if !s.ok() {
		return nil, ErrConnClosed
	}
	for {
		msg, ok, err := s.dec.Decode()
		if err != nil {
			s.con.Close()
			return nil, err
		}
		if ok {
			return msg, nil
		}
		n, err := s.con.Read(s.scratch)
		if n > 0 {
			s.dec.Write(s.scratch[:n])
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil, ErrConnClosed
			}
			return nil, err
		}
	}
}

// SendSync sends data as a sync request and reads frames until the
// matching response arrives. Intervening async messages go to the
// async queue when one is configured and are dropped otherwise; sync
// requests from the peer are refused.
func (s *QStream) SendSync(data *K) (*K, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Send(SYNC, data); err != nil {
		return nil, err
	}
	for {
		msg, err := s.Receive()
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case RESPONSE:
			if msg.Data != nil && msg.Data.Type == KERR {
				return nil, msg.Data.Data.(error)
			}
			return msg.Data, nil
		case ASYNC:
			select {
			case s.asyncQ <- msg:
			default:
				s.log.Debug().Msg("dropping async message during sync call")
			}
		case SYNC:
			if err := s.Send(RESPONSE, Error(ErrSyncRequest)); err != nil {
				return nil, err
			}
		}
	}
}

// AsyncMessages returns the queue of async messages captured during
// sync calls, or nil when WithAsyncQueue was not configured.
func (s *QStream) AsyncMessages() <-chan *Message { return s.asyncQ }

// Call performs a synchronous call similar to h(func;arg1;arg2;...).
func (s *QStream) Call(cmd string, args ...*K) (*K, error) {
	return s.SendSync(callValue(cmd, args))
}

// AsyncCall performs an asynchronous call.
func (s *QStream) AsyncCall(cmd string, args ...*K) error {
	return s.Send(ASYNC, callValue(cmd, args))
}

func callValue(cmd string, args []*K) *K {
	cmdK := &K{KC, NONE, cmd}
	if len(args) == 0 {
		return cmdK
	}
	return &K{K0, NONE, append([]*K{cmdK}, args...)}
}

// Shutdown flushes staged frames, half-closes the write side where the
// transport supports it and closes the connection.
func (s *QStream) Shutdown() error {
	if !s.ok() {
		return ErrConnClosed
	}
	s.wmu.Lock()
	err := s.enc.Flush(s.con)
	s.wmu.Unlock()
	if c, ok := s.con.(*net.TCPConn); ok {
		_ = c.CloseWrite()
	}
	if cerr := s.con.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection.
func (s *QStream) Close() error {
	if !s.ok() {
		return ErrConnClosed
	}
	return s.con.Close()
}

// IsListener reports whether the stream came from Accept.
func (s *QStream) IsListener() bool { return s.listener }
