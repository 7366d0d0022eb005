package remote

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/chazu/hdmvplay/engine"
	"github.com/chazu/hdmvplay/session"
)

// Client calls a remote-control server.
type Client struct {
	press       *connect.Client[PressRequest, Empty]
	topMenu     *connect.Client[Empty, Empty]
	popup       *connect.Client[Empty, Empty]
	chapter     *connect.Client[ChapterRequest, Empty]
	seek        *connect.Client[SeekRequest, Empty]
	togglePlay  *connect.Client[Empty, Empty]
	track       *connect.Client[TrackRequest, Empty]
	status      *connect.Client[Empty, session.Status]
	open        *connect.Client[OpenRequest, Empty]
	resume      *connect.Client[Empty, Empty]
	directories *connect.Client[Empty, DirectoriesResponse]
	addDir      *connect.Client[DirectoryRequest, Empty]
	removeDir   *connect.Client[DirectoryRequest, Empty]
}

// NewClient returns a client for the server at baseURL. Messages are sent
// as CBOR unless json is set.
func NewClient(httpClient connect.HTTPClient, baseURL string, json bool) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimRight(baseURL, "/")
	var opt connect.ClientOption = connect.WithCodec(engine.Codec)
	if json {
		opt = connect.WithCodec(jsonCodec{})
	}
	return &Client{
		press:       connect.NewClient[PressRequest, Empty](httpClient, base+PressProcedure, opt),
		topMenu:     connect.NewClient[Empty, Empty](httpClient, base+TopMenuProcedure, opt),
		popup:       connect.NewClient[Empty, Empty](httpClient, base+PopupProcedure, opt),
		chapter:     connect.NewClient[ChapterRequest, Empty](httpClient, base+ChapterProcedure, opt),
		seek:        connect.NewClient[SeekRequest, Empty](httpClient, base+SeekProcedure, opt),
		togglePlay:  connect.NewClient[Empty, Empty](httpClient, base+TogglePlayProcedure, opt),
		track:       connect.NewClient[TrackRequest, Empty](httpClient, base+TrackProcedure, opt),
		status:      connect.NewClient[Empty, session.Status](httpClient, base+StatusProcedure, opt),
		open:        connect.NewClient[OpenRequest, Empty](httpClient, base+OpenProcedure, opt),
		resume:      connect.NewClient[Empty, Empty](httpClient, base+ResumeProcedure, opt),
		directories: connect.NewClient[Empty, DirectoriesResponse](httpClient, base+DirectoriesProcedure, opt),
		addDir:      connect.NewClient[DirectoryRequest, Empty](httpClient, base+AddDirectoryProcedure, opt),
		removeDir:   connect.NewClient[DirectoryRequest, Empty](httpClient, base+RemoveDirectoryProcedure, opt),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Press presses key.
func (c *Client) Press(ctx context.Context, key string) error {
	_, err := call(ctx, c.press, &PressRequest{Key: key})
	return err
}

// TopMenu requests the top menu.
func (c *Client) TopMenu(ctx context.Context) error {
	_, err := call(ctx, c.topMenu, &Empty{})
	return err
}

// Popup toggles the pop-up menu.
func (c *Client) Popup(ctx context.Context) error {
	_, err := call(ctx, c.popup, &Empty{})
	return err
}

// Chapter selects chapter i.
func (c *Client) Chapter(ctx context.Context, i int) error {
	_, err := call(ctx, c.chapter, &ChapterRequest{Index: i})
	return err
}

// Seek seeks to seconds into the current file.
func (c *Client) Seek(ctx context.Context, seconds float64) error {
	_, err := call(ctx, c.seek, &SeekRequest{Seconds: seconds})
	return err
}

// TogglePlay pauses or resumes playback.
func (c *Client) TogglePlay(ctx context.Context) error {
	_, err := call(ctx, c.togglePlay, &Empty{})
	return err
}

// Track selects a track of kind "audio" or "sub".
func (c *Client) Track(ctx context.Context, kind string, id int) error {
	_, err := call(ctx, c.track, &TrackRequest{Kind: kind, ID: id})
	return err
}

// Status returns the session status.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	st, err := call(ctx, c.status, &Empty{})
	if err != nil {
		return session.Status{}, err
	}
	return *st, nil
}

// Open opens the disc at path on the server side.
func (c *Client) Open(ctx context.Context, path string) error {
	_, err := call(ctx, c.open, &OpenRequest{Path: path})
	return err
}

// Resume continues the open disc from its bookmark.
func (c *Client) Resume(ctx context.Context) error {
	_, err := call(ctx, c.resume, &Empty{})
	return err
}

// Directories lists the remembered directories.
func (c *Client) Directories(ctx context.Context) ([]string, error) {
	resp, err := call(ctx, c.directories, &Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// AddDirectory remembers a directory.
func (c *Client) AddDirectory(ctx context.Context, path string) error {
	_, err := call(ctx, c.addDir, &DirectoryRequest{Path: path})
	return err
}

// RemoveDirectory forgets a directory.
func (c *Client) RemoveDirectory(ctx context.Context, path string) error {
	_, err := call(ctx, c.removeDir, &DirectoryRequest{Path: path})
	return err
}
