// Package remote serves the player's remote-control API over Connect.
//
// Messages are plain Go structs carried as CBOR (content type
// application/cbor) or JSON (application/json); no protobuf descriptors
// are involved.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/engine"
	"github.com/chazu/hdmvplay/session"
	"github.com/chazu/hdmvplay/store"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.remote")

// ServiceName is the Connect service path prefix.
const ServiceName = "hdmvplay.remote.v1.Remote"

// Procedure paths.
const (
	PressProcedure           = "/" + ServiceName + "/Press"
	TopMenuProcedure         = "/" + ServiceName + "/TopMenu"
	PopupProcedure           = "/" + ServiceName + "/Popup"
	ChapterProcedure         = "/" + ServiceName + "/Chapter"
	SeekProcedure            = "/" + ServiceName + "/Seek"
	TogglePlayProcedure      = "/" + ServiceName + "/TogglePlay"
	TrackProcedure           = "/" + ServiceName + "/Track"
	StatusProcedure          = "/" + ServiceName + "/Status"
	OpenProcedure            = "/" + ServiceName + "/Open"
	ResumeProcedure          = "/" + ServiceName + "/Resume"
	DirectoriesProcedure     = "/" + ServiceName + "/Directories"
	AddDirectoryProcedure    = "/" + ServiceName + "/AddDirectory"
	RemoveDirectoryProcedure = "/" + ServiceName + "/RemoveDirectory"
)

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Empty is the request or response of calls without arguments.
type Empty struct{}

// PressRequest presses a remote key.
type PressRequest struct {
	Key string `json:"key"`
}

// ChapterRequest selects a chapter (0-based).
type ChapterRequest struct {
	Index int `json:"index"`
}

// SeekRequest seeks the current file.
type SeekRequest struct {
	Seconds float64 `json:"seconds"`
}

// TrackRequest selects an audio or subtitle track. ID 0 turns subtitles off.
type TrackRequest struct {
	Kind string `json:"kind"` // "audio" or "sub"
	ID   int    `json:"id"`
}

// OpenRequest opens a disc directory.
type OpenRequest struct {
	Path string `json:"path"`
}

// DirectoryRequest names a directory of the filesystem bridge.
type DirectoryRequest struct {
	Path string `json:"path"`
}

// DirectoriesResponse lists the remembered directories.
type DirectoriesResponse struct {
	Paths []string `json:"paths"`
}

// ---------------------------------------------------------------------------
// Codecs
// ---------------------------------------------------------------------------

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// codecOptions replace connect's protobuf codecs.
func codecOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(engine.Codec),
		connect.WithCodec(jsonCodec{}),
	}
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Directories is the filesystem bridge's directory list.
type Directories interface {
	AddDirectory(ctx context.Context, path string) error
	RemoveDirectory(ctx context.Context, path string) error
	Directories(ctx context.Context) ([]string, error)
}

// Server exposes a session over Connect.
type Server struct {
	sess *session.Session
	dirs Directories
	mux  *http.ServeMux
}

// New returns a server controlling sess. dirs may be nil, which disables
// the directory calls.
func New(sess *session.Session, dirs Directories) *Server {
	s := &Server{sess: sess, dirs: dirs, mux: http.NewServeMux()}
	opts := codecOptions()

	handle := func(path string, h http.Handler) { s.mux.Handle(path, h) }
	handle(PressProcedure, connect.NewUnaryHandler(PressProcedure, s.press, opts...))
	handle(TopMenuProcedure, connect.NewUnaryHandler(TopMenuProcedure, s.topMenu, opts...))
	handle(PopupProcedure, connect.NewUnaryHandler(PopupProcedure, s.popup, opts...))
	handle(ChapterProcedure, connect.NewUnaryHandler(ChapterProcedure, s.chapter, opts...))
	handle(SeekProcedure, connect.NewUnaryHandler(SeekProcedure, s.seek, opts...))
	handle(TogglePlayProcedure, connect.NewUnaryHandler(TogglePlayProcedure, s.togglePlay, opts...))
	handle(TrackProcedure, connect.NewUnaryHandler(TrackProcedure, s.track, opts...))
	handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.status, opts...))
	handle(OpenProcedure, connect.NewUnaryHandler(OpenProcedure, s.open, opts...))
	handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, s.resume, opts...))
	handle(DirectoriesProcedure, connect.NewUnaryHandler(DirectoriesProcedure, s.directories, opts...))
	handle(AddDirectoryProcedure, connect.NewUnaryHandler(AddDirectoryProcedure, s.addDirectory, opts...))
	handle(RemoveDirectoryProcedure, connect.NewUnaryHandler(RemoveDirectoryProcedure, s.removeDirectory, opts...))
	return s
}

// Handler returns the HTTP handler serving all procedures.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Noticef("remote control listening on %s", addr)
	log.Infof("  status: http://%s%s", addr, StatusProcedure)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// toConnect maps session errors to Connect codes.
func toConnect(err error) error {
	if err == nil {
		return nil
	}
	var code connect.Code
	switch {
	case errors.Is(err, session.ErrNoDisc):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, session.ErrMenuCallMasked):
		code = connect.CodePermissionDenied
	case errors.Is(err, disc.ErrNotFound), errors.Is(err, store.ErrBookmarkNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, session.ErrClosed):
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}

func empty() *connect.Response[Empty] { return connect.NewResponse(&Empty{}) }

func (s *Server) press(ctx context.Context, req *connect.Request[PressRequest]) (*connect.Response[Empty], error) {
	k, err := session.ParseKey(req.Msg.Key)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.sess.Press(ctx, k); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) topMenu(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.sess.TopMenu(ctx); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) popup(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.sess.Popup(ctx); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) chapter(ctx context.Context, req *connect.Request[ChapterRequest]) (*connect.Response[Empty], error) {
	if req.Msg.Index < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("chapter index %d", req.Msg.Index))
	}
	if err := s.sess.SelectChapter(ctx, req.Msg.Index); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) seek(_ context.Context, req *connect.Request[SeekRequest]) (*connect.Response[Empty], error) {
	if req.Msg.Seconds < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("seek to %g", req.Msg.Seconds))
	}
	if err := s.sess.Seek(req.Msg.Seconds); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) togglePlay(context.Context, *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.sess.TogglePlay(); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) track(_ context.Context, req *connect.Request[TrackRequest]) (*connect.Response[Empty], error) {
	var err error
	switch req.Msg.Kind {
	case "audio":
		err = s.sess.SelectAudio(req.Msg.ID)
	case "sub":
		err = s.sess.SelectSubtitle(req.Msg.ID)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("track kind %q", req.Msg.Kind))
	}
	if err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) status(context.Context, *connect.Request[Empty]) (*connect.Response[session.Status], error) {
	st, err := s.sess.Status()
	if err != nil {
		return nil, toConnect(err)
	}
	return connect.NewResponse(&st), nil
}

func (s *Server) open(ctx context.Context, req *connect.Request[OpenRequest]) (*connect.Response[Empty], error) {
	if req.Msg.Path == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("path is required"))
	}
	if err := s.sess.OpenDisc(ctx, req.Msg.Path); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) resume(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.sess.ResumeBookmark(ctx); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) directories(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[DirectoriesResponse], error) {
	if s.dirs == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("no store configured"))
	}
	paths, err := s.dirs.Directories(ctx)
	if err != nil {
		return nil, toConnect(err)
	}
	return connect.NewResponse(&DirectoriesResponse{Paths: paths}), nil
}

func (s *Server) addDirectory(ctx context.Context, req *connect.Request[DirectoryRequest]) (*connect.Response[Empty], error) {
	if s.dirs == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("no store configured"))
	}
	if req.Msg.Path == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("path is required"))
	}
	if err := s.dirs.AddDirectory(ctx, req.Msg.Path); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}

func (s *Server) removeDirectory(ctx context.Context, req *connect.Request[DirectoryRequest]) (*connect.Response[Empty], error) {
	if s.dirs == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("no store configured"))
	}
	if err := s.dirs.RemoveDirectory(ctx, req.Msg.Path); err != nil {
		return nil, toConnect(err)
	}
	return empty(), nil
}
