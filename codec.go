package kdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

const headerSize = 8

// Frames above this total size are considered for compression.
const compressionThreshold = 2000

// CompressionMode controls when outgoing frames are compressed.
type CompressionMode int

const (
	// CompressAuto compresses large frames on remote connections only.
	CompressAuto CompressionMode = iota
	// CompressAlways attempts compression for every large frame.
	CompressAlways
	// CompressNever sends everything uncompressed.
	CompressNever
)

// ValidationMode controls how strictly incoming headers are checked.
type ValidationMode int

const (
	// ValidateStrict rejects compressed flags outside {0,1} and message
	// types outside {0,1,2}.
	ValidateStrict ValidationMode = iota
	// ValidateLenient accepts any header field values.
	ValidateLenient
)

// Limits bound what the decoder will allocate for untrusted input.
type Limits struct {
	MaxListSize         int
	MaxDepth            int
	MaxTotalBytes       int
	MaxDecompressedSize int
}

// DefaultLimits returns the stock decode limits.
func DefaultLimits() Limits {
	return Limits{
		MaxListSize:         1_000_000_000,
		MaxDepth:            64,
		MaxTotalBytes:       1 << 30,
		MaxDecompressedSize: 256 << 20,
	}
}

// Message is one framed value with its message type.
type Message struct {
	Type ReqType
	Data *K
}

type config struct {
	compression CompressionMode
	validation  ValidationMode
	local       bool
	limits      Limits
	logger      zerolog.Logger
	asyncDepth  int
}

func defaultConfig() config {
	return config{
		compression: CompressAuto,
		validation:  ValidateStrict,
		limits:      DefaultLimits(),
		logger:      zerolog.Nop(),
	}
}

// Option configures a codec or stream. Every option has a default.
type Option func(*config)

func WithCompressionMode(m CompressionMode) Option {
	return func(c *config) { c.compression = m }
}

func WithValidationMode(m ValidationMode) Option {
	return func(c *config) { c.validation = m }
}

// WithLocal marks the connection as same-host, which disables
// compression in Auto mode.
func WithLocal(local bool) Option {
	return func(c *config) { c.local = local }
}

func WithLimits(l Limits) Option {
	return func(c *config) { c.limits = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAsyncQueue buffers up to n async messages arriving while a sync
// response is awaited instead of discarding them.
func WithAsyncQueue(n int) Option {
	return func(c *config) { c.asyncDepth = n }
}

func (h *ipcHeader) getByteOrder() binary.ByteOrder {
	if h.ByteOrder == 0x00 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func parseHeader(b []byte) ipcHeader {
	h := ipcHeader{ByteOrder: b[0], RequestType: b[1], Compressed: b[2], Reserved: b[3]}
	h.MsgSize = h.getByteOrder().Uint32(b[4:8])
	return h
}

// FrameDecoder assembles frames from an incoming byte stream. Bytes fed
// with Write stay buffered until a whole frame is consumed, so a caller
// that abandons a read between calls loses nothing: the next Decode
// resumes with the same state.
type FrameDecoder struct {
	cfg config
	buf []byte
}

// Write appends transport bytes to the frame buffer.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes retained between Decode calls.
func (d *FrameDecoder) Buffered() int { return len(d.buf) }

func (d *FrameDecoder) consume(total int) {
	n := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:n]
}

// Decode pulls one message out of the buffer. ok is false when more
// bytes are needed. A frame that fails to decompress or decode has been
// discarded whole when the error is returned; a header error leaves the
// buffer untouched. The protocol does not admit resynchronization, so
// callers should close the stream on any error.
func (d *FrameDecoder) Decode() (msg *Message, ok bool, err error) {
	if len(d.buf) < headerSize {
		return nil, false, nil
	}
	h := parseHeader(d.buf)
	if d.cfg.validation == ValidateStrict {
		if h.Compressed > 1 {
			return nil, false, fmt.Errorf("%w: compressed flag %d", ErrInvalidHeader, h.Compressed)
		}
		if h.RequestType > 2 {
			return nil, false, fmt.Errorf("%w: message type %d", ErrInvalidHeader, h.RequestType)
		}
	}
	total := int(h.MsgSize)
	if total < headerSize {
		return nil, false, fmt.Errorf("%w: length %d below header size", ErrInvalidHeader, total)
	}
	if total > d.cfg.limits.MaxTotalBytes {
		return nil, false, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	if len(d.buf) < total {
		return nil, false, nil
	}

	order := h.getByteOrder()
	payload := d.buf[headerSize:total]
	if h.Compressed == 1 {
		payload, err = uncompressPayload(payload, order, d.cfg.limits.MaxDecompressedSize)
		if err != nil {
			d.consume(total)
			d.cfg.logger.Debug().Err(err).Msg("discarding corrupt compressed frame")
			return nil, false, err
		}
	}
	data, err := DecodePayload(payload, order, d.cfg.limits)
	d.consume(total)
	if err != nil {
		d.cfg.logger.Debug().Err(err).Msg("discarding undecodable frame")
		return nil, false, err
	}
	return &Message{ReqType(h.RequestType), data}, true, nil
}

// FrameEncoder serializes outgoing frames. Feed stages complete frames
// into an outbound buffer without touching the wire; Flush commits the
// staged bytes. A send cancelled between the two can therefore never
// emit a half frame.
type FrameEncoder struct {
	cfg config
	out bytes.Buffer
}

// Feed serializes one message into the staging buffer.
func (e *FrameEncoder) Feed(msgtype ReqType, data *K) error {
	payload, err := EncodePayload(data)
	if err != nil {
		return err
	}
	total := headerSize + len(payload)
	raw := make([]byte, total)
	raw[0] = encodingByte
	raw[1] = byte(msgtype)
	copy(raw[headerSize:], payload)

	try := e.cfg.compression != CompressNever &&
		total > compressionThreshold &&
		(e.cfg.compression == CompressAlways || !e.cfg.local)
	if try {
		if comp, ok := compressFrame(raw); ok {
			e.out.Write(comp)
			return nil
		}
	}
	hostOrder.PutUint32(raw[4:8], uint32(total))
	e.out.Write(raw)
	return nil
}

// Staged returns the number of bytes awaiting Flush.
func (e *FrameEncoder) Staged() int { return e.out.Len() }

// Flush writes the staged frames to w. On a short write the unwritten
// tail stays staged.
func (e *FrameEncoder) Flush(w io.Writer) error {
	if e.out.Len() == 0 {
		return nil
	}
	n, err := w.Write(e.out.Bytes())
	e.out.Next(n)
	return err
}

// Codec pairs a FrameDecoder with a FrameEncoder over one connection.
// The halves never share mutable state, so Split hands them out for
// concurrent duplex use; correlation is then the caller's concern.
type Codec struct {
	dec FrameDecoder
	enc FrameEncoder
}

// NewCodec builds a codec; omitted options keep their defaults
// (Auto compression, Strict validation, remote, DefaultLimits).
func NewCodec(opts ...Option) *Codec {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Codec{FrameDecoder{cfg: cfg}, FrameEncoder{cfg: cfg}}
}

// Split returns the independent read and write halves.
func (c *Codec) Split() (*FrameDecoder, *FrameEncoder) { return &c.dec, &c.enc }

func (c *Codec) SetCompressionMode(m CompressionMode) { c.enc.cfg.compression = m }
func (c *Codec) CompressionMode() CompressionMode     { return c.enc.cfg.compression }
func (c *Codec) SetValidationMode(m ValidationMode)   { c.dec.cfg.validation = m }
func (c *Codec) ValidationMode() ValidationMode       { return c.dec.cfg.validation }

// Encode writes data in q IPC format to w as a single frame,
// attempting compression for large frames.
func Encode(w io.Writer, msgtype ReqType, data *K) error {
	e := FrameEncoder{cfg: defaultConfig()}
	e.cfg.compression = CompressAlways
	if err := e.Feed(msgtype, data); err != nil {
		return err
	}
	return e.Flush(w)
}

// Decode reads one complete message from src in q IPC format.
func Decode(src *bufio.Reader) (data *K, msgtype ReqType, err error) {
	head := make([]byte, headerSize)
	if _, err = io.ReadFull(src, head); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrShortHeader, err)
	}
	h := parseHeader(head)
	total := int(h.MsgSize)
	lim := DefaultLimits()
	if total < headerSize {
		return nil, 0, fmt.Errorf("%w: length %d below header size", ErrInvalidHeader, total)
	}
	if total > lim.MaxTotalBytes {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	payload := make([]byte, total-headerSize)
	if _, err = io.ReadFull(src, payload); err != nil {
		return nil, ReqType(h.RequestType), err
	}
	order := h.getByteOrder()
	if h.Compressed == 1 {
		if payload, err = uncompressPayload(payload, order, lim.MaxDecompressedSize); err != nil {
			return nil, ReqType(h.RequestType), err
		}
	}
	data, err = DecodePayload(payload, order, lim)
	return data, ReqType(h.RequestType), err
}
