// Package alert delivers trade and failure notices to the operator.
package alert

import (
	"fmt"
	"strings"
)

// Notifier delivers operator messages. Send must not block on the network.
type Notifier interface {
	Send(message string) error
	Close() error
}

// Discard drops every message. Used when no webhook is configured.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Send(string) error { return nil }
func (discard) Close() error      { return nil }

// Event is one trading notice rendered as a single line.
type Event struct {
	Kind    string // ENTRY, PANIC EXIT, REJECTED
	Symbol  string
	OrderID string
	Fields  []Field
	Err     error
}

// Field is a key=value pair of an Event.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// String renders e as "KIND SYMBOL k=v ... order=ID: err".
func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Kind)
	b.WriteByte(' ')
	b.WriteString(e.Symbol)
	for _, f := range e.Fields {
		switch v := f.Value.(type) {
		case float64:
			fmt.Fprintf(&b, " %s=%.2f", f.Key, v)
		default:
			fmt.Fprintf(&b, " %s=%v", f.Key, v)
		}
	}
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}
