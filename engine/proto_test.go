package engine

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chazu/hdmvplay/disc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
)

// writeDisc lays out a one-playlist navigation dump under a temp root.
func writeDisc(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "BDMV"), 0o755); err != nil {
		t.Fatal(err)
	}
	dump := `{"discName":"` + name + `","titleMap":[0],"objects":[{"cmds":[]}],
		"playlists":{"7":{"clips":[{"clipId":"00007","outTime":90000}]}}}`
	if err := os.WriteFile(filepath.Join(root, "BDMV", "navigation.json"), []byte(dump), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

func TestProtoCodecKeepsZeroValues(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"false", Property("pause", false)},
		{"zero int", Property("playlist-current-pos", int64(0))},
		{"negative int", Property("playlist-current-pos", int64(-1))},
		{"zero float", Property("playback-time", 0.0)},
		{"empty string", Property("sid", "")},
		{"no value", Property("duration", nil)},
		{"idle", Event{Type: EventIdle, ShaderCount: 4}},
		{"tracks", Event{Type: EventTrackList, Tracks: DefaultTracks}},
		{"chapters", Event{Type: EventChapterList, Chapters: []ChapterInfo{{Title: "1", Time: 0}, {Title: "2", Time: 61.5}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ProtoCodec.Marshal(&tt.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got Event
			if err := ProtoCodec.Unmarshal(b, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, tt.ev) {
				t.Errorf("event = %+v, want %+v", got, tt.ev)
			}
		})
	}
}

func TestProtoCodecLargeUnsigned(t *testing.T) {
	ev := Property("id", uint64(1)<<63)
	b, err := ProtoCodec.Marshal(&ev)
	if err != nil {
		t.Fatal(err)
	}
	var got Event
	if err := ProtoCodec.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Value != "9223372036854775808" {
		t.Errorf("value = %v (%T), want decimal string", got.Value, got.Value)
	}
}

func TestProtoCodecRejects(t *testing.T) {
	ev := Property("tracks", []any{1, 2})
	if _, err := ProtoCodec.Marshal(&ev); err == nil {
		t.Error("expected error for a list value")
	}
	if _, err := ProtoCodec.Marshal(struct{}{}); err == nil {
		t.Error("expected error for a foreign type")
	}
	if err := ProtoCodec.Unmarshal(nil, new(int)); err == nil {
		t.Error("expected error unmarshaling into a foreign type")
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "cbor", false},
		{"cbor", "cbor", false},
		{"engineproto", "engineproto", false},
		{"json", "", true},
	}
	for _, tt := range tests {
		c, err := CodecByName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("CodecByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && c.Name() != tt.want {
			t.Errorf("CodecByName(%q) = %s, want %s", tt.name, c.Name(), tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func TestGRPCProtoCodec(t *testing.T) {
	sim, c := dialSimulatorCodec(t, ProtoCodec)
	ev := c.Events()

	if first := next(t, ev); first.Type != EventIdle || first.ShaderCount != 4 {
		t.Fatalf("first event = %+v, want idle with 4 shaders", first)
	}
	if err := c.LoadFile("/d/00001.m2ts", "start=2"); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadFiles([]string{"/d/00002.m2ts"}); err != nil {
		t.Fatal(err)
	}
	expect(t, ev, "file-start")
	if tl := next(t, ev); !reflect.DeepEqual(tl.Tracks, DefaultTracks) {
		t.Fatalf("tracks = %+v, want %+v", tl.Tracks, DefaultTracks)
	}
	expect(t, ev, "playlist-current-pos=0", "pause=false", "playback-time=2")

	if err := c.SetPlaybackTime(7.5); err != nil {
		t.Fatal(err)
	}
	expect(t, ev, "seeking=true", "playback-time=7.5", "seeking=false")
	if st := sim.State(); len(st.List) != 2 || st.Time != 7.5 {
		t.Errorf("simulator state = %+v", st)
	}

	root := writeDisc(t, "PROTO")
	info, err := c.OpenDiscImage(root)
	if err != nil {
		t.Fatalf("OpenDiscImage: %v", err)
	}
	if info.Name != "PROTO" || info.Playlists[7] == nil || info.Playlists[7].ID != 7 {
		t.Errorf("info = %+v", info)
	}
}

func TestGRPCReflection(t *testing.T) {
	_, dialer := serveSimulator(t)
	conn, err := grpc.NewClient("passthrough:///bufnet", dialer,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx := context.Background()
	rc := grpcreflect.NewClientV1Alpha(ctx, rpb.NewServerReflectionClient(conn))
	defer rc.Reset()

	svc, err := rc.ResolveService(serviceName)
	if err != nil {
		t.Fatalf("ResolveService: %v", err)
	}
	attach := svc.FindMethodByName("Attach")
	if attach == nil || !attach.IsClientStreaming() || !attach.IsServerStreaming() {
		t.Fatalf("Attach = %v, want a bidirectional stream", attach)
	}
	if f := attach.GetInputType().FindFieldByName("seconds"); f == nil {
		t.Error("Command has no seconds field")
	}

	// A client built only from the reflected schema can open a disc.
	open := svc.FindMethodByName("OpenDiscImage")
	if open == nil {
		t.Fatal("OpenDiscImage not described")
	}
	req := dynamic.NewMessage(open.GetInputType())
	req.SetFieldByName("path", writeDisc(t, "REFLECTED"))
	resp := dynamic.NewMessage(open.GetOutputType())
	if err := conn.Invoke(ctx, "/"+serviceName+"/OpenDiscImage", req, resp,
		grpc.CallContentSubtype(ProtoCodec.Name())); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	nav, _ := resp.GetFieldByName("navigation").([]byte)
	info, err := disc.Decode(nav, true)
	if err != nil {
		t.Fatalf("decode navigation: %v", err)
	}
	if info.Name != "REFLECTED" {
		t.Errorf("disc name = %q, want REFLECTED", info.Name)
	}
}
