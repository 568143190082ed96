package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/example/driftd/internal/contract"
)

// ErrVersionExists rejects re-registration of an existing contract version:
// contracts are immutable, a change is a new version.
var ErrVersionExists = fmt.Errorf("contract version already registered")

// ErrContractNotFound is returned for unknown contract ids or versions.
var ErrContractNotFound = fmt.Errorf("contract not found")

// Registry stores registered contract versions in memory. Comparisons read
// from it concurrently while registrations proceed.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]map[string]*contract.Contract // id -> version
}

// NewRegistry creates an empty contract registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]map[string]*contract.Contract)}
}

// Put stores a new contract version.
func (r *Registry) Put(c *contract.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.contracts[c.ID]
	if !ok {
		versions = make(map[string]*contract.Contract)
		r.contracts[c.ID] = versions
	}
	if _, exists := versions[c.Version]; exists {
		return fmt.Errorf("%w: %s@%s", ErrVersionExists, c.ID, c.Version)
	}
	versions[c.Version] = c
	return nil
}

// Get returns one contract version.
func (r *Registry) Get(id, version string) (*contract.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrContractNotFound, id, version)
	}
	return c, nil
}

// RegisterRequest is the wire form of a contract registration. Exactly one
// protocol payload field should be populated.
type RegisterRequest struct {
	ContractID string `json:"contract_id"`
	Version    string `json:"version"`
	Protocol   string `json:"protocol"`

	// HTTP: an OpenAPI document, either inline JSON or a string holding
	// JSON or YAML.
	OpenAPISpec json.RawMessage `json:"openapi_spec,omitempty"`

	// gRPC: a base64-encoded serialized FileDescriptorSet.
	DescriptorSet string `json:"descriptor_set,omitempty"`

	// WebSocket message types.
	MessageTypes []contract.MessageTypeDef `json:"message_types,omitempty"`

	// MQTT topics.
	Topics []contract.TopicDef `json:"topics,omitempty"`

	// Kafka topics.
	KafkaTopics []contract.KafkaTopicDef `json:"kafka_topics,omitempty"`
}

// BuildContract normalizes a registration request into a contract snapshot.
func BuildContract(ctx context.Context, req *RegisterRequest) (*contract.Contract, error) {
	if req.ContractID == "" || req.Version == "" {
		return nil, fmt.Errorf("contract_id and version are required")
	}
	protocol, err := contract.ParseProtocol(req.Protocol)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case contract.ProtocolHTTP:
		spec, err := specBytes(req.OpenAPISpec)
		if err != nil {
			return nil, err
		}
		return contract.NewHTTPContract(ctx, req.ContractID, req.Version, spec)
	case contract.ProtocolGRPC:
		raw, err := base64.StdEncoding.DecodeString(req.DescriptorSet)
		if err != nil {
			return nil, fmt.Errorf("decode descriptor_set: %w", err)
		}
		return contract.NewGRPCContract(req.ContractID, req.Version, raw)
	case contract.ProtocolWebSocket:
		return contract.NewWebSocketContract(req.ContractID, req.Version, req.MessageTypes)
	case contract.ProtocolMQTT:
		return contract.NewMQTTContract(req.ContractID, req.Version, req.Topics)
	default:
		return contract.NewKafkaContract(req.ContractID, req.Version, req.KafkaTopics)
	}
}

// specBytes accepts the OpenAPI document either as inline JSON or as a JSON
// string carrying JSON or YAML text.
func specBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("openapi_spec is required for http contracts")
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode openapi_spec: %w", err)
		}
		return []byte(s), nil
	}
	return trimmed, nil
}
