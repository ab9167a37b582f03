package rabbitmq

import amqp "github.com/rabbitmq/amqp091-go"

const (
	headerDeliveryCount = "x-delivery-count"
	headerDeath         = "x-death"
)

// DeliveryCount returns how many times a message has been delivered before,
// as reported by the broker. Quorum queues set x-delivery-count on every
// redelivery, dead-lettering cycles are recorded in x-death. The larger of the
// two wins; a first delivery reports 0.
func DeliveryCount(headers amqp.Table) int64 {
	count := toInt64(headers[headerDeliveryCount])

	deaths, ok := headers[headerDeath].([]interface{})
	if !ok {
		return count
	}

	var died int64
	for _, d := range deaths {
		if t, ok := d.(amqp.Table); ok {
			died += toInt64(t["count"])
		}
	}

	if died > count {
		return died
	}

	return count
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	case int:
		return int64(n)
	case uint32:
		return int64(n)
	case uint16:
		return int64(n)
	case uint8:
		return int64(n)
	default:
		return 0
	}
}
