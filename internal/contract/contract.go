package contract

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Protocol tags a contract with its transport.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolGRPC      Protocol = "grpc"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolKafka     Protocol = "kafka"
)

// ParseProtocol validates a protocol string from an API request or config.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolHTTP, ProtocolGRPC, ProtocolWebSocket, ProtocolMQTT, ProtocolKafka:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// StreamingKind describes a gRPC method's streaming configuration.
const (
	StreamingUnary  = "unary"
	StreamingClient = "client_stream"
	StreamingServer = "server_stream"
	StreamingBidi   = "bidi_stream"
)

// Metadata carries the protocol-specific attributes of an operation that are
// diffed alongside its schema.
type Metadata struct {
	// gRPC
	Service    string `json:"service,omitempty"`
	Method     string `json:"method,omitempty"`
	InputType  string `json:"input_type,omitempty"`
	OutputType string `json:"output_type,omitempty"`
	Streaming  string `json:"streaming,omitempty"`

	// HTTP
	HTTPMethod string `json:"http_method,omitempty"`
	Path       string `json:"path,omitempty"`

	// Messaging
	Topic       string `json:"topic,omitempty"`
	Direction   string `json:"direction,omitempty"`
	QoS         int    `json:"qos,omitempty"`
	Retained    bool   `json:"retained,omitempty"`
	Partitions  int    `json:"partitions,omitempty"`
	Replication int    `json:"replication_factor,omitempty"`
}

// Operation is one comparable unit of a contract: an HTTP route, a gRPC
// method, a WebSocket message type, or an MQTT/Kafka topic.
type Operation struct {
	ID        string       `json:"operation_id"`
	Schema    *SchemaNode  `json:"schema,omitempty"`
	Output    *SchemaNode  `json:"output,omitempty"`
	KeySchema *SchemaNode  `json:"key_schema,omitempty"`
	Format    SchemaFormat `json:"schema_format,omitempty"`
	KeyFormat SchemaFormat `json:"key_schema_format,omitempty"`
	Meta      Metadata     `json:"metadata"`

	// Err records a per-operation schema parse failure. The operation stays
	// in the contract so the diff can surface it without hiding the rest.
	Err *ParseError `json:"-"`

	compiled *jsonschema.Schema
}

// Inbound reports whether the operation faces consumers sending data in,
// which raises the severity of new required fields.
func (o *Operation) Inbound() bool {
	switch o.Meta.Direction {
	case "server_to_client", "outbound":
		return false
	}
	return true
}

// ValidateExample validates a decoded example payload against the
// operation's compiled schema. Only operations registered with a JSON Schema
// payload carry one.
func (o *Operation) ValidateExample(payload any) error {
	if o.compiled == nil {
		return fmt.Errorf("operation %s has no compiled schema", o.ID)
	}
	return o.compiled.Validate(payload)
}

// Contract is an immutable, versioned snapshot of one protocol surface.
// Constructors return fully built values; nothing mutates a contract after
// creation.
type Contract struct {
	ID         string                `json:"contract_id"`
	Version    string                `json:"version"`
	Protocol   Protocol              `json:"protocol"`
	Operations map[string]*Operation `json:"operations"`
}

// OperationIDs returns the operation IDs in sorted order.
func (c *Contract) OperationIDs() []string {
	ids := make([]string, 0, len(c.Operations))
	for id := range c.Operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Operation looks up an operation by ID.
func (c *Contract) Operation(id string) (*Operation, bool) {
	op, ok := c.Operations[id]
	return op, ok
}

// ParseErrors returns the operations whose schema payloads failed to parse.
func (c *Contract) ParseErrors() []*ParseError {
	var errs []*ParseError
	for _, id := range c.OperationIDs() {
		if op := c.Operations[id]; op.Err != nil {
			errs = append(errs, op.Err)
		}
	}
	return errs
}
