package contract

import (
	"encoding/json"
	"fmt"
)

// MessageTypeDef declares one WebSocket message type at registration time.
type MessageTypeDef struct {
	MessageType string          `json:"message_type"`
	Direction   string          `json:"direction,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// TopicDef declares one MQTT topic at registration time.
type TopicDef struct {
	Topic    string          `json:"topic"`
	QoS      int             `json:"qos"`
	Retained bool            `json:"retained,omitempty"`
	Schema   json.RawMessage `json:"schema"`
}

// KafkaTopicDef declares one Kafka topic at registration time. Format names
// the declared serialization; when empty it is detected from the value
// schema document.
type KafkaTopicDef struct {
	Topic             string          `json:"topic"`
	KeySchema         json.RawMessage `json:"key_schema,omitempty"`
	ValueSchema       json.RawMessage `json:"value_schema"`
	Format            string          `json:"format,omitempty"`
	Partitions        int             `json:"partitions,omitempty"`
	ReplicationFactor int             `json:"replication_factor,omitempty"`
}

// NewWebSocketContract builds a websocket contract from message type
// definitions. A malformed schema marks only its own operation; the rest of
// the contract is still built.
func NewWebSocketContract(id, version string, defs []MessageTypeDef) (*Contract, error) {
	c := &Contract{
		ID:         id,
		Version:    version,
		Protocol:   ProtocolWebSocket,
		Operations: make(map[string]*Operation, len(defs)),
	}
	for _, def := range defs {
		if def.MessageType == "" {
			return nil, fmt.Errorf("websocket contract %s: message type with empty name", id)
		}
		op := &Operation{
			ID: def.MessageType,
			Meta: Metadata{
				Topic:     def.MessageType,
				Direction: def.Direction,
			},
		}
		normalizeMessageSchema(op, def.Schema)
		c.Operations[op.ID] = op
	}
	return c, nil
}

// NewMQTTContract builds an MQTT contract from topic definitions.
func NewMQTTContract(id, version string, defs []TopicDef) (*Contract, error) {
	c := &Contract{
		ID:         id,
		Version:    version,
		Protocol:   ProtocolMQTT,
		Operations: make(map[string]*Operation, len(defs)),
	}
	for _, def := range defs {
		if def.Topic == "" {
			return nil, fmt.Errorf("mqtt contract %s: topic with empty name", id)
		}
		op := &Operation{
			ID: def.Topic,
			Meta: Metadata{
				Topic:    def.Topic,
				QoS:      def.QoS,
				Retained: def.Retained,
			},
		}
		normalizeMessageSchema(op, def.Schema)
		c.Operations[op.ID] = op
	}
	return c, nil
}

// NewKafkaContract builds a Kafka contract from topic definitions, carrying
// key and value schemas plus partition and replication metadata.
func NewKafkaContract(id, version string, defs []KafkaTopicDef) (*Contract, error) {
	c := &Contract{
		ID:         id,
		Version:    version,
		Protocol:   ProtocolKafka,
		Operations: make(map[string]*Operation, len(defs)),
	}
	for _, def := range defs {
		if def.Topic == "" {
			return nil, fmt.Errorf("kafka contract %s: topic with empty name", id)
		}
		op := &Operation{
			ID: def.Topic,
			Meta: Metadata{
				Topic:       def.Topic,
				Partitions:  def.Partitions,
				Replication: def.ReplicationFactor,
			},
		}
		normalizeMessageSchema(op, def.ValueSchema)
		if declared := declaredFormat(def.Format); declared != "" {
			op.Format = declared
		}
		if len(def.KeySchema) > 0 {
			key, keyFormat, err := NormalizeSchema(def.KeySchema)
			if err != nil {
				op.Err = &ParseError{OperationID: op.ID, Path: op.ID + ".key", Err: err}
			} else {
				op.KeySchema = key
				op.KeyFormat = keyFormat
			}
		}
		c.Operations[op.ID] = op
	}
	return c, nil
}

// normalizeMessageSchema normalizes one message schema payload onto op,
// compiling json_schema payloads so malformed ones are caught here. Failures
// are recorded on the operation, never propagated.
func normalizeMessageSchema(op *Operation, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	node, format, err := NormalizeSchema(raw)
	if err != nil {
		op.Err = &ParseError{OperationID: op.ID, Path: op.ID, Err: err}
		return
	}
	op.Schema = node
	op.Format = format
	if format == FormatJSONSchema {
		compiled, err := compileJSONSchema(raw)
		if err != nil {
			op.Err = &ParseError{OperationID: op.ID, Path: op.ID, Err: err}
			op.Schema = nil
			op.Format = ""
			return
		}
		op.compiled = compiled
	}
}

func declaredFormat(name string) SchemaFormat {
	switch name {
	case "json", "json_schema":
		return FormatJSONSchema
	case "avro":
		return FormatAvro
	case "protobuf":
		return FormatProtobuf
	case "":
		return ""
	default:
		return SchemaFormat(name)
	}
}
