package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chazu/hdmvplay/disc"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/reflection"
)

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

// Codec carries engine frames as canonical CBOR.
var Codec = cborCodec{}

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type cborCodec struct{}

func (cborCodec) Name() string                       { return "cbor" }
func (cborCodec) Marshal(v any) ([]byte, error)      { return encMode.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// Command ops sent on the Attach stream.
const (
	OpLoadFile        = "loadfile"
	OpLoadFiles       = "loadfiles"
	OpSetAudioTrack   = "aid"
	OpSetSubtitle     = "sid"
	OpSetVideoTrack   = "vid"
	OpTogglePlay      = "toggle-play"
	OpSetPlaybackTime = "seek"
	OpStop            = "stop"
)

// Command is one engine call as sent over the wire.
type Command struct {
	Op      string   `cbor:"op"`
	Path    string   `cbor:"path,omitempty"`
	Options string   `cbor:"options,omitempty"`
	Paths   []string `cbor:"paths,omitempty"`
	ID      int      `cbor:"id,omitempty"`
	Seconds float64  `cbor:"seconds,omitempty"`
}

// OpenRequest asks the engine host to parse a disc.
type OpenRequest struct {
	Path string `cbor:"path"`
}

// Apply performs cmd on eng.
func Apply(eng Engine, cmd Command) error {
	switch cmd.Op {
	case OpLoadFile:
		return eng.LoadFile(cmd.Path, cmd.Options)
	case OpLoadFiles:
		return eng.LoadFiles(cmd.Paths)
	case OpSetAudioTrack:
		return eng.SetAudioTrack(cmd.ID)
	case OpSetSubtitle:
		return eng.SetSubtitleTrack(cmd.ID)
	case OpSetVideoTrack:
		return eng.SetVideoTrack(cmd.ID)
	case OpTogglePlay:
		return eng.TogglePlay()
	case OpSetPlaybackTime:
		return eng.SetPlaybackTime(cmd.Seconds)
	case OpStop:
		return eng.Stop()
	}
	return fmt.Errorf("unknown engine command %q", cmd.Op)
}

// ---------------------------------------------------------------------------
// Service description
// ---------------------------------------------------------------------------

const serviceName = "hdmvplay.engine.Engine"

type engineService interface {
	openDiscImage(ctx context.Context, req *OpenRequest) (*disc.Info, error)
	attach(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*engineService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenDiscImage", Handler: openDiscImageHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Attach", Handler: attachHandler, ServerStreams: true, ClientStreams: true},
	},
}

func openDiscImageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(OpenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineService).openDiscImage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/OpenDiscImage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineService).openDiscImage(ctx, req.(*OpenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func attachHandler(srv any, stream grpc.ServerStream) error {
	return srv.(engineService).attach(stream)
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server exposes an Engine to one attached player at a time.
type Server struct {
	eng      Engine
	mu       sync.Mutex
	attached bool
}

// NewServer wraps eng.
func NewServer(eng Engine) *Server {
	return &Server{eng: eng}
}

// NewGRPCServer returns a grpc.Server for the engine service. Frames are
// decoded with whichever engine codec the client names in its content
// subtype, so CBOR and protobuf clients share one listener.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(opts...)
}

// Register installs the engine service on g along with server reflection
// describing it.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
	if err := registerSchema(); err != nil {
		log.Errorf("engine reflection disabled: %s", err)
		return
	}
	reflection.Register(g)
}

func (s *Server) openDiscImage(_ context.Context, req *OpenRequest) (*disc.Info, error) {
	log.Infof("open disc image %s", req.Path)
	return s.eng.OpenDiscImage(req.Path)
}

func (s *Server) attach(stream grpc.ServerStream) error {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return errors.New("engine already attached")
	}
	s.attached = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.attached = false
		s.mu.Unlock()
	}()

	ctx := stream.Context()
	sendErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-s.eng.Events():
				if !ok {
					sendErr <- ErrClosed
					return
				}
				if err := stream.SendMsg(&ev); err != nil {
					sendErr <- err
					return
				}
			}
		}
	}()

	recvErr := make(chan error, 1)
	go func() {
		for {
			var cmd Command
			if err := stream.RecvMsg(&cmd); err != nil {
				recvErr <- err
				return
			}
			if err := Apply(s.eng, cmd); err != nil {
				log.Warningf("engine command %s: %s", cmd.Op, err)
			}
		}
	}()

	select {
	case err := <-recvErr:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	case err := <-sendErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is an Engine reached over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	codec  encoding.Codec
	q      *eventQueue

	mu     sync.Mutex
	closed bool
}

var _ Engine = (*Client)(nil)

// Dial connects to an engine host at target without transport security,
// carrying frames as CBOR.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	return DialCodec(ctx, target, Codec, opts...)
}

// DialCodec is Dial with frames carried by codec.
func DialCodec(ctx context.Context, target string, codec encoding.Codec, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", target, err)
	}
	c, err := NewClientCodec(ctx, conn, codec)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient attaches to the engine service on conn. Closing the client
// closes conn.
func NewClient(ctx context.Context, conn *grpc.ClientConn) (*Client, error) {
	return NewClientCodec(ctx, conn, Codec)
}

// NewClientCodec is NewClient with frames carried by codec.
func NewClientCodec(ctx context.Context, conn *grpc.ClientConn, codec encoding.Codec) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+serviceName+"/Attach", grpc.ForceCodec(codec))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("attach engine: %w", err)
	}
	c := &Client{conn: conn, stream: stream, cancel: cancel, codec: codec, q: newEventQueue()}
	go c.recv()
	return c, nil
}

func (c *Client) recv() {
	defer c.q.close()
	for {
		var ev Event
		if err := c.stream.RecvMsg(&ev); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("engine stream ended: %s", err)
			}
			return
		}
		if err := ev.Validate(); err != nil {
			log.Warningf("dropping engine event: %s", err)
			continue
		}
		c.q.push(ev)
	}
}

func (c *Client) send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.stream.SendMsg(&cmd); err != nil {
		return fmt.Errorf("%s: %w (%v)", cmd.Op, ErrClosed, err)
	}
	return nil
}

func (c *Client) LoadFile(path, options string) error {
	return c.send(Command{Op: OpLoadFile, Path: path, Options: options})
}

func (c *Client) LoadFiles(paths []string) error {
	return c.send(Command{Op: OpLoadFiles, Paths: paths})
}

func (c *Client) SetAudioTrack(id int) error    { return c.send(Command{Op: OpSetAudioTrack, ID: id}) }
func (c *Client) SetSubtitleTrack(id int) error { return c.send(Command{Op: OpSetSubtitle, ID: id}) }
func (c *Client) SetVideoTrack(id int) error    { return c.send(Command{Op: OpSetVideoTrack, ID: id}) }
func (c *Client) TogglePlay() error             { return c.send(Command{Op: OpTogglePlay}) }
func (c *Client) Stop() error                   { return c.send(Command{Op: OpStop}) }

func (c *Client) SetPlaybackTime(seconds float64) error {
	return c.send(Command{Op: OpSetPlaybackTime, Seconds: seconds})
}

// OpenDiscImage asks the engine host to parse the disc at path. The
// returned Root is path as seen by the host.
func (c *Client) OpenDiscImage(path string) (*disc.Info, error) {
	info := new(disc.Info)
	err := c.conn.Invoke(context.Background(), "/"+serviceName+"/OpenDiscImage",
		&OpenRequest{Path: path}, info, grpc.ForceCodec(c.codec))
	if err != nil {
		return nil, fmt.Errorf("open disc image %s: %w", path, err)
	}
	info.Root = path
	return info, nil
}

func (c *Client) Events() <-chan Event { return c.q.out }

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.stream.CloseSend()
	c.mu.Unlock()
	c.cancel()
	return c.conn.Close()
}
