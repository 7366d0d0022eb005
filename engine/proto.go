package engine

import (
	"fmt"
	"math"
	"sync"

	"github.com/chazu/hdmvplay/disc"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

const (
	protoPackage = "hdmvplay.engine"
	protoFile    = "hdmvplay/engine.proto"
)

func init() {
	encoding.RegisterCodec(Codec)
	encoding.RegisterCodec(ProtoCodec)
}

type fieldType = descriptorpb.FieldDescriptorProto_Type

func field(name string, num int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func messageField(name string, num int32, msg string) *descriptorpb.FieldDescriptorProto {
	f := field(name, num, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String("." + protoPackage + "." + msg)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func method(name, in, out string, streaming bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + protoPackage + "." + in),
		OutputType: proto.String("." + protoPackage + "." + out),
	}
	if streaming {
		m.ClientStreaming = proto.Bool(true)
		m.ServerStreaming = proto.Bool(true)
	}
	return m
}

// fileProto describes the engine service as a proto3 file. The same
// frames travel as CBOR under Codec.
func fileProto() *descriptorpb.FileDescriptorProto {
	const (
		str     = descriptorpb.FieldDescriptorProto_TYPE_STRING
		i64     = descriptorpb.FieldDescriptorProto_TYPE_INT64
		i32     = descriptorpb.FieldDescriptorProto_TYPE_INT32
		double  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
		boolean = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		bytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("OpenRequest", field("path", 1, str)),
			message("DiscImage", field("navigation", 1, bytes)),
			message("Command",
				field("op", 1, str),
				field("path", 2, str),
				field("options", 3, str),
				repeated(field("paths", 4, str)),
				field("id", 5, i64),
				field("seconds", 6, double),
			),
			message("TrackInfo",
				field("id", 1, i64),
				field("type", 2, str),
				field("src_id", 3, i64),
				field("lang", 4, str),
				field("title", 5, str),
				field("codec", 6, str),
				field("selected", 7, boolean),
			),
			message("ChapterInfo",
				field("title", 1, str),
				field("time", 2, double),
			),
			// value_kind names the *_value field holding a property
			// value; proto3 cannot tell a zero value from an absent one.
			message("Event",
				field("type", 1, str),
				field("shader_count", 2, i32),
				field("name", 3, str),
				field("value_kind", 4, str),
				field("int_value", 5, i64),
				field("double_value", 6, double),
				field("bool_value", 7, boolean),
				field("string_value", 8, str),
				repeated(messageField("tracks", 9, "TrackInfo")),
				repeated(messageField("chapters", 10, "ChapterInfo")),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Engine"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("OpenDiscImage", "OpenRequest", "DiscImage", false),
				method("Attach", "Command", "Event", true),
			},
		}},
	}
}

type schema struct {
	open, image, command, event, track, ch *desc.MessageDescriptor
}

var loadSchema = sync.OnceValues(func() (*schema, error) {
	fd, err := desc.CreateFileDescriptor(fileProto())
	if err != nil {
		return nil, fmt.Errorf("engine schema: %w", err)
	}
	s := new(schema)
	for name, dst := range map[string]**desc.MessageDescriptor{
		"OpenRequest": &s.open,
		"DiscImage":   &s.image,
		"Command":     &s.command,
		"Event":       &s.event,
		"TrackInfo":   &s.track,
		"ChapterInfo": &s.ch,
	} {
		if *dst = fd.FindMessage(protoPackage + "." + name); *dst == nil {
			return nil, fmt.Errorf("engine schema: no message %s", name)
		}
	}
	return s, nil
})

// registerSchema publishes the schema to the global registry so the
// reflection service can describe the engine service.
var registerSchema = sync.OnceValue(func() error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(protoFile); err == nil {
		return nil
	}
	fd, err := protodesc.NewFile(fileProto(), protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("engine schema: %w", err)
	}
	return protoregistry.GlobalFiles.RegisterFile(fd)
})

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

// ProtoCodec carries engine frames as protobuf messages of the engine
// schema. Besides the engine's Go types it accepts dynamic messages, so
// clients that learn the schema through server reflection can call the
// service directly.
var ProtoCodec = protoCodec{}

type protoCodec struct{}

func (protoCodec) Name() string { return "engineproto" }

func (protoCodec) Marshal(v any) ([]byte, error) {
	s, err := loadSchema()
	if err != nil {
		return nil, err
	}
	var msg *dynamic.Message
	switch v := v.(type) {
	case *dynamic.Message:
		return v.Marshal()
	case *OpenRequest:
		msg = dynamic.NewMessage(s.open)
		err = msg.TrySetFieldByName("path", v.Path)
	case *Command:
		msg, err = s.commandMessage(v)
	case *Event:
		msg, err = s.eventMessage(v)
	case *disc.Info:
		var nav []byte
		if nav, err = encMode.Marshal(v); err == nil {
			msg = dynamic.NewMessage(s.image)
			err = msg.TrySetFieldByName("navigation", nav)
		}
	default:
		return nil, fmt.Errorf("engineproto: cannot marshal %T", v)
	}
	if err != nil {
		return nil, fmt.Errorf("engineproto: %T: %w", v, err)
	}
	return msg.Marshal()
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(*dynamic.Message); ok {
		return m.Unmarshal(data)
	}
	s, err := loadSchema()
	if err != nil {
		return err
	}
	var md *desc.MessageDescriptor
	switch v.(type) {
	case *OpenRequest:
		md = s.open
	case *Command:
		md = s.command
	case *Event:
		md = s.event
	case *disc.Info:
		md = s.image
	default:
		return fmt.Errorf("engineproto: cannot unmarshal into %T", v)
	}
	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal(data); err != nil {
		return fmt.Errorf("engineproto: %w", err)
	}

	switch v := v.(type) {
	case *OpenRequest:
		v.Path = stringField(msg, "path")
	case *Command:
		*v = commandFrom(msg)
	case *Event:
		*v = eventFrom(msg)
	case *disc.Info:
		nav, _ := msg.GetFieldByName("navigation").([]byte)
		info, err := disc.Decode(nav, true)
		if err != nil {
			return fmt.Errorf("engineproto: disc image: %w", err)
		}
		*v = *info
	}
	return nil
}

func (s *schema) commandMessage(c *Command) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(s.command)
	for name, val := range map[string]any{
		"op":      c.Op,
		"path":    c.Path,
		"options": c.Options,
		"id":      int64(c.ID),
		"seconds": c.Seconds,
	} {
		if err := msg.TrySetFieldByName(name, val); err != nil {
			return nil, err
		}
	}
	for _, p := range c.Paths {
		if err := msg.TryAddRepeatedFieldByName("paths", p); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func commandFrom(msg *dynamic.Message) Command {
	c := Command{
		Op:      stringField(msg, "op"),
		Path:    stringField(msg, "path"),
		Options: stringField(msg, "options"),
	}
	if id, ok := msg.GetFieldByName("id").(int64); ok {
		c.ID = int(id)
	}
	c.Seconds, _ = msg.GetFieldByName("seconds").(float64)
	for _, p := range repeatedField(msg, "paths") {
		if s, ok := p.(string); ok {
			c.Paths = append(c.Paths, s)
		}
	}
	return c
}

// valueField picks the *_value field that holds v. Integers
// that do not fit int64 fall back to their decimal string, the same way
// Int64 crosses the worker boundary.
func valueField(v any) (string, any, error) {
	switch v := v.(type) {
	case nil:
		return "", nil, nil
	case int64:
		return "int_value", v, nil
	case int:
		return "int_value", int64(v), nil
	case int32:
		return "int_value", int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return "string_value", fmt.Sprint(v), nil
		}
		return "int_value", int64(v), nil
	case float64:
		return "double_value", v, nil
	case float32:
		return "double_value", float64(v), nil
	case bool:
		return "bool_value", v, nil
	case string:
		return "string_value", v, nil
	}
	return "", nil, fmt.Errorf("property value %v (%T) has no protobuf form", v, v)
}

func (s *schema) eventMessage(e *Event) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(s.event)
	if err := msg.TrySetFieldByName("type", string(e.Type)); err != nil {
		return nil, err
	}
	if err := msg.TrySetFieldByName("shader_count", int32(e.ShaderCount)); err != nil {
		return nil, err
	}
	if err := msg.TrySetFieldByName("name", e.Name); err != nil {
		return nil, err
	}
	name, val, err := valueField(e.Value)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if err := msg.TrySetFieldByName("value_kind", name); err != nil {
			return nil, err
		}
		if err := msg.TrySetFieldByName(name, val); err != nil {
			return nil, err
		}
	}

	for _, t := range e.Tracks {
		tm := dynamic.NewMessage(s.track)
		for name, val := range map[string]any{
			"id":       int64(t.ID),
			"type":     t.Type,
			"src_id":   int64(t.SrcID),
			"lang":     t.Lang,
			"title":    t.Title,
			"codec":    t.Codec,
			"selected": t.Selected,
		} {
			if err := tm.TrySetFieldByName(name, val); err != nil {
				return nil, err
			}
		}
		if err := msg.TryAddRepeatedFieldByName("tracks", tm); err != nil {
			return nil, err
		}
	}
	for _, c := range e.Chapters {
		cm := dynamic.NewMessage(s.ch)
		if err := cm.TrySetFieldByName("title", c.Title); err != nil {
			return nil, err
		}
		if err := cm.TrySetFieldByName("time", c.Time); err != nil {
			return nil, err
		}
		if err := msg.TryAddRepeatedFieldByName("chapters", cm); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func eventFrom(msg *dynamic.Message) Event {
	e := Event{
		Type: EventType(stringField(msg, "type")),
		Name: stringField(msg, "name"),
	}
	if n, ok := msg.GetFieldByName("shader_count").(int32); ok {
		e.ShaderCount = int(n)
	}
	switch kind := stringField(msg, "value_kind"); kind {
	case "int_value", "double_value", "bool_value", "string_value":
		e.Value = msg.GetFieldByName(kind)
	}
	for _, v := range repeatedField(msg, "tracks") {
		tm, ok := v.(*dynamic.Message)
		if !ok {
			continue
		}
		id, _ := tm.GetFieldByName("id").(int64)
		src, _ := tm.GetFieldByName("src_id").(int64)
		sel, _ := tm.GetFieldByName("selected").(bool)
		e.Tracks = append(e.Tracks, TrackInfo{
			ID:       Int64(id),
			Type:     stringField(tm, "type"),
			SrcID:    Int64(src),
			Lang:     stringField(tm, "lang"),
			Title:    stringField(tm, "title"),
			Codec:    stringField(tm, "codec"),
			Selected: sel,
		})
	}
	for _, v := range repeatedField(msg, "chapters") {
		cm, ok := v.(*dynamic.Message)
		if !ok {
			continue
		}
		t, _ := cm.GetFieldByName("time").(float64)
		e.Chapters = append(e.Chapters, ChapterInfo{Title: stringField(cm, "title"), Time: t})
	}
	return e
}

func stringField(msg *dynamic.Message, name string) string {
	s, _ := msg.GetFieldByName(name).(string)
	return s
}

func repeatedField(msg *dynamic.Message, name string) []any {
	vs, _ := msg.GetFieldByName(name).([]any)
	return vs
}

// CodecByName returns the frame codec registered under name.
func CodecByName(name string) (encoding.Codec, error) {
	switch name {
	case "", Codec.Name():
		return Codec, nil
	case ProtoCodec.Name():
		return ProtoCodec, nil
	}
	return nil, fmt.Errorf("unknown engine codec %q", name)
}
