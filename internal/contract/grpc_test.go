package contract

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func userDescriptorSet(t *testing.T) []byte {
	t.Helper()

	str := descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()
	i64 := descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum()
	msg := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("user.proto"),
		Package: proto.String("user.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("GetUserRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("id"), Number: proto.Int32(1), Type: i64, Label: optional},
				},
			},
			{
				Name: proto.String("User"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("id"), Number: proto.Int32(1), Type: i64, Label: optional},
					{Name: proto.String("email"), Number: proto.Int32(2), Type: str, Label: optional},
					{Name: proto.String("tags"), Number: proto.Int32(3), Type: str, Label: repeated},
				},
			},
			{
				Name: proto.String("WatchUsersRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("filter"), Number: proto.Int32(1), Type: str, Label: optional},
				},
			},
			{
				Name: proto.String("UserEvent"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("user"), Number: proto.Int32(1), Type: msg, TypeName: proto.String(".user.v1.User"), Label: optional},
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("UserService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("GetUser"),
						InputType:  proto.String(".user.v1.GetUserRequest"),
						OutputType: proto.String(".user.v1.User"),
					},
					{
						Name:            proto.String("WatchUsers"),
						InputType:       proto.String(".user.v1.WatchUsersRequest"),
						OutputType:      proto.String(".user.v1.UserEvent"),
						ServerStreaming: proto.Bool(true),
					},
				},
			},
		},
	}

	raw, err := proto.Marshal(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{fd},
	})
	if err != nil {
		t.Fatalf("marshal descriptor set: %v", err)
	}
	return raw
}

func TestNewGRPCContract(t *testing.T) {
	c, err := NewGRPCContract("user-api", "v1", userDescriptorSet(t))
	if err != nil {
		t.Fatalf("contract build failed: %v", err)
	}
	if len(c.Operations) != 2 {
		t.Fatalf("operations = %d, want 2", len(c.Operations))
	}

	get, ok := c.Operations["user.v1.UserService.GetUser"]
	if !ok {
		t.Fatal("GetUser operation missing")
	}
	if get.Meta.Service != "user.v1.UserService" || get.Meta.Method != "GetUser" {
		t.Errorf("service metadata wrong: %+v", get.Meta)
	}
	if get.Meta.InputType != "user.v1.GetUserRequest" || get.Meta.OutputType != "user.v1.User" {
		t.Errorf("type names wrong: %+v", get.Meta)
	}
	if get.Meta.Streaming != StreamingUnary {
		t.Errorf("streaming = %v, want unary", get.Meta.Streaming)
	}
	if get.Format != FormatProtobuf {
		t.Errorf("format = %v, want protobuf", get.Format)
	}
	if get.Schema.Properties["id"].Type != "integer" {
		t.Errorf("input id type = %v, want integer", get.Schema.Properties["id"].Type)
	}
	out := get.Output
	if out.Properties["email"].Type != "string" {
		t.Errorf("output email type = %v, want string", out.Properties["email"].Type)
	}
	tags := out.Properties["tags"]
	if tags.Kind != KindArray || tags.Items.Type != "string" {
		t.Errorf("repeated field not an array: %+v", tags)
	}

	watch := c.Operations["user.v1.UserService.WatchUsers"]
	if watch.Meta.Streaming != StreamingServer {
		t.Errorf("streaming = %v, want server_stream", watch.Meta.Streaming)
	}
	if watch.Output.Properties["user"].Kind != KindObject {
		t.Errorf("nested message field not an object: %+v", watch.Output.Properties["user"])
	}
}

func TestNewGRPCContractRejectsGarbage(t *testing.T) {
	if _, err := NewGRPCContract("x", "v1", []byte("not a descriptor set")); err == nil {
		t.Fatal("expected error for malformed descriptor set")
	}
}
