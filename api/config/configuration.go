package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/slogdb/slogadm/api/models"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The server reads slog.internal.Configuration in protobuf text format. The
// descriptor is assembled here so the tool does not need generated code.
var (
	configurationDesc protoreflect.MessageDescriptor
	replicaDesc       protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(configurationProto(), nil)
	if err != nil {
		panic(fmt.Sprintf("invalid configuration descriptor: %v", err))
	}
	configurationDesc = fd.Messages().ByName("Configuration")
	replicaDesc = fd.Messages().ByName("Replica")
}

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, repeated bool, typeName string) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func configurationProto() *descriptorpb.FileDescriptorProto {
	const (
		tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("proto/configuration.proto"),
		Package: proto.String("slog.internal"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Replica"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("addresses", 1, tBytes, true, ""),
				},
			},
			{
				Name: proto.String("ReplicationDelayExperiment"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("batch_delay_percent", 1, tUint32, false, ""),
					field("batch_delay_amount", 2, tUint32, false, ""),
				},
			},
			{
				Name: proto.String("Configuration"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("protocol", 1, tString, false, ""),
					field("replicas", 2, tMessage, true, ".slog.internal.Replica"),
					field("broker_port", 3, tUint32, false, ""),
					field("server_port", 4, tUint32, false, ""),
					field("num_partitions", 5, tUint32, false, ""),
					field("partition_key_num_bytes", 6, tUint32, false, ""),
					field("num_workers", 7, tUint32, false, ""),
					field("batch_duration", 8, tUint64, false, ""),
					field("replication_delay", 9, tMessage, false, ".slog.internal.ReplicationDelayExperiment"),
				},
			},
		},
	}
}

// Configuration is a parsed cluster configuration. It is immutable; use
// WithAddresses to derive a modified copy.
type Configuration struct {
	msg *dynamicpb.Message
}

// Load reads and parses the configuration file at path. Any failure is a
// *models.ConfigLoadError.
func Load(path string) (*Configuration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigLoadError{Path: path, Err: err}
	}
	c, err := Parse(b)
	var cerr *models.ConfigLoadError
	if errors.As(err, &cerr) {
		cerr.Path = path
	}
	return c, err
}

// Parse parses a configuration in protobuf text format.
func Parse(text []byte) (*Configuration, error) {
	msg := dynamicpb.NewMessage(configurationDesc)
	if err := prototext.Unmarshal(text, msg); err != nil {
		return nil, &models.ConfigLoadError{Err: err}
	}
	return &Configuration{msg: msg}, nil
}

func (c *Configuration) uint(name protoreflect.Name) uint64 {
	return c.msg.Get(configurationDesc.Fields().ByName(name)).Uint()
}

func (c *Configuration) NumPartitions() int { return int(c.uint("num_partitions")) }

func (c *Configuration) PartitionKeyNumBytes() int { return int(c.uint("partition_key_num_bytes")) }

func (c *Configuration) NumReplicas() int {
	return c.msg.Get(configurationDesc.Fields().ByName("replicas")).List().Len()
}

// Addresses returns the configured addresses of every replica, in order.
func (c *Configuration) Addresses() [][]string {
	replicas := c.msg.Get(configurationDesc.Fields().ByName("replicas")).List()
	addrField := replicaDesc.Fields().ByName("addresses")

	out := make([][]string, replicas.Len())
	for r := 0; r < replicas.Len(); r++ {
		addrs := replicas.Get(r).Message().Get(addrField).List()
		out[r] = make([]string, addrs.Len())
		for p := 0; p < addrs.Len(); p++ {
			out[r][p] = string(addrs.Get(p).Bytes())
		}
	}
	return out
}

// WithAddresses returns a copy of c whose replicas carry the given address
// lists. The number of replicas must not change.
func (c *Configuration) WithAddresses(addresses [][]string) (*Configuration, error) {
	if len(addresses) != c.NumReplicas() {
		return nil, fmt.Errorf("%w: have %d replicas, got addresses for %d", models.ErrInvalidTopology, c.NumReplicas(), len(addresses))
	}

	clone := proto.Clone(c.msg).(*dynamicpb.Message)
	replicas := clone.Mutable(configurationDesc.Fields().ByName("replicas")).List()
	addrField := replicaDesc.Fields().ByName("addresses")

	for r, addrs := range addresses {
		rep := replicas.NewElement().Message()
		list := rep.Mutable(addrField).List()
		for _, a := range addrs {
			list.Append(protoreflect.ValueOfBytes([]byte(a)))
		}
		replicas.Set(r, protoreflect.ValueOfMessage(rep))
	}
	return &Configuration{msg: clone}, nil
}

// Text renders the configuration in protobuf text format, the form the
// server reads from its data directory.
func (c *Configuration) Text() (string, error) {
	b, err := prototext.MarshalOptions{Multiline: true}.Marshal(c.msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
