package diff

import (
	"fmt"
	"strconv"

	"github.com/example/driftd/internal/contract"
)

// messageSpecializer covers WebSocket message types and MQTT/Kafka topics:
// the generic schema walk plus broker metadata rules. Metadata changes not
// explicitly additive (partition or replication increases) are breaking.
type messageSpecializer struct{}

func (messageSpecializer) removals(oldC, newC *contract.Contract) []Mismatch {
	return operationRemovals(oldC, newC, CategoryTopicRemoved)
}

func (messageSpecializer) additions(oldC, newC *contract.Contract) []Mismatch {
	return operationAdditions(oldC, newC)
}

func (messageSpecializer) compareOperation(c *collector, oldOp, newOp *contract.Operation) {
	compareMessageMeta(c, oldOp, newOp)
	compareFormats(c, oldOp.ID, oldOp.Format, newOp.Format)
	if oldOp.KeySchema != nil || newOp.KeySchema != nil {
		compareFormats(c, oldOp.ID+".key", oldOp.KeyFormat, newOp.KeyFormat)
		compareSchemas(c, oldOp.ID+".key", oldOp.KeySchema, newOp.KeySchema, true)
	}
	compareSchemas(c, oldOp.ID, oldOp.Schema, newOp.Schema, oldOp.Inbound())
}

func compareMessageMeta(c *collector, oldOp, newOp *contract.Operation) {
	id := oldOp.ID
	om, nm := oldOp.Meta, newOp.Meta

	// QoS changes alter delivery guarantees in both directions.
	if om.QoS != nm.QoS {
		c.add(newMismatch(TypeSchemaMismatch, id+".qos",
			fmt.Sprintf("QoS level changed from %d to %d", om.QoS, nm.QoS),
			SeverityMedium, CategoryQoSChanged, false, true, map[string]string{
				"old_qos": strconv.Itoa(om.QoS),
				"new_qos": strconv.Itoa(nm.QoS),
			}))
	}
	if om.Retained != nm.Retained {
		c.add(newMismatch(TypeSchemaMismatch, id+".retained",
			fmt.Sprintf("retained flag changed from %t to %t", om.Retained, nm.Retained),
			SeverityMedium, CategoryRetainedChanged, false, true, nil))
	}
	if om.Direction != nm.Direction && (om.Direction != "" || nm.Direction != "") {
		c.add(newMismatch(TypeSchemaMismatch, id+".direction",
			fmt.Sprintf("message direction changed from %q to %q", om.Direction, nm.Direction),
			SeverityHigh, CategoryDirectionChanged, false, true, map[string]string{
				"old_direction": om.Direction,
				"new_direction": nm.Direction,
			}))
	}

	compareCount(c, id+".partitions", "partition count", om.Partitions, nm.Partitions,
		CategoryPartitionsUp, CategoryPartitionsDown)
	compareCount(c, id+".replication_factor", "replication factor", om.Replication, nm.Replication,
		CategoryReplicationUp, CategoryReplicationDown)
}

// compareCount classifies a broker sizing change: increases are additive,
// decreases are breaking.
func compareCount(c *collector, path, label string, oldV, newV int, upCategory, downCategory string) {
	switch {
	case oldV == newV, oldV == 0, newV == 0:
		return
	case newV > oldV:
		c.add(newMismatch(TypeSchemaMismatch, path,
			fmt.Sprintf("%s increased from %d to %d", label, oldV, newV),
			SeverityLow, upCategory, true, false, map[string]string{
				"old_value": strconv.Itoa(oldV),
				"new_value": strconv.Itoa(newV),
			}))
	default:
		c.add(newMismatch(TypeSchemaMismatch, path,
			fmt.Sprintf("%s decreased from %d to %d", label, oldV, newV),
			SeverityHigh, downCategory, false, true, map[string]string{
				"old_value": strconv.Itoa(oldV),
				"new_value": strconv.Itoa(newV),
			}))
	}
}
