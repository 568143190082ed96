package contract

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// NewGRPCContract builds a gRPC contract from a serialized
// FileDescriptorSet (the output of protoc --descriptor_set_out). Every
// service method becomes one operation keyed by its fully qualified name.
func NewGRPCContract(id, version string, descriptorSet []byte) (*Contract, error) {
	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(descriptorSet, fds); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor set: %w", err)
	}

	files := &protoregistry.Files{}
	for _, fd := range fds.File {
		file, err := protodesc.NewFile(fd, files)
		if err != nil {
			return nil, fmt.Errorf("resolve descriptor %s: %w", fd.GetName(), err)
		}
		if _, err := files.FindFileByPath(file.Path()); err == nil {
			continue // already registered
		}
		if err := files.RegisterFile(file); err != nil {
			return nil, fmt.Errorf("register descriptor %s: %w", fd.GetName(), err)
		}
	}

	c := &Contract{
		ID:         id,
		Version:    version,
		Protocol:   ProtocolGRPC,
		Operations: make(map[string]*Operation),
	}
	files.RangeFiles(func(file protoreflect.FileDescriptor) bool {
		services := file.Services()
		for i := 0; i < services.Len(); i++ {
			sd := services.Get(i)
			methods := sd.Methods()
			for j := 0; j < methods.Len(); j++ {
				md := methods.Get(j)
				op := methodOperation(sd, md)
				c.Operations[op.ID] = op
			}
		}
		return true
	})
	return c, nil
}

func methodOperation(sd protoreflect.ServiceDescriptor, md protoreflect.MethodDescriptor) *Operation {
	opID := string(sd.FullName()) + "." + string(md.Name())
	return &Operation{
		ID:     opID,
		Schema: messageNode(md.Input(), map[protoreflect.FullName]bool{}),
		Output: messageNode(md.Output(), map[protoreflect.FullName]bool{}),
		Format: FormatProtobuf,
		Meta: Metadata{
			Service:    string(sd.FullName()),
			Method:     string(md.Name()),
			InputType:  string(md.Input().FullName()),
			OutputType: string(md.Output().FullName()),
			Streaming:  streamingKind(md),
		},
	}
}

func streamingKind(md protoreflect.MethodDescriptor) string {
	switch {
	case md.IsStreamingClient() && md.IsStreamingServer():
		return StreamingBidi
	case md.IsStreamingClient():
		return StreamingClient
	case md.IsStreamingServer():
		return StreamingServer
	default:
		return StreamingUnary
	}
}

// messageNode walks a message descriptor into an object node. Recursive
// message references collapse to an empty object to terminate cycles.
func messageNode(md protoreflect.MessageDescriptor, visited map[protoreflect.FullName]bool) *SchemaNode {
	node := NewObject()
	if visited[md.FullName()] {
		return node
	}
	visited[md.FullName()] = true
	defer delete(visited, md.FullName())

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		f := fields.Get(i)
		name := string(f.Name())
		node.Properties[name] = fieldNode(f, visited)
	}
	return node
}

func fieldNode(f protoreflect.FieldDescriptor, visited map[protoreflect.FullName]bool) *SchemaNode {
	if f.IsMap() {
		return NewObject()
	}
	var elem *SchemaNode
	switch f.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		elem = messageNode(f.Message(), visited)
	default:
		elem = NewScalar(protoScalar(f.Kind()))
	}
	if f.IsList() {
		return NewArray(elem)
	}
	return elem
}

func protoScalar(k protoreflect.Kind) string {
	switch k {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return "integer"
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return "number"
	case protoreflect.BoolKind:
		return "boolean"
	case protoreflect.BytesKind:
		return "bytes"
	case protoreflect.EnumKind:
		return "string"
	default:
		return "string"
	}
}
