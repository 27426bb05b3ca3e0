// Dispatch turns a parsed proto.Frame into a call against the storage
// engine and an encoded reply, implementing the command table of spec.md
// §4.4. Grounded on original_source/part-b/src/network_server.cpp's
// process_command, translated from its string-splitting dispatch into one
// over proto.Frame's already-tokenized []byte arguments.
package netserver

import (
	"strings"

	"github.com/rpmoore/blinkdb/internal/engine"
	"github.com/rpmoore/blinkdb/internal/proto"
)

// Dispatcher executes parsed frames against an Engine.
type Dispatcher struct {
	engine *engine.Engine

	// BugCompatibleEmptyValue reproduces the original implementation's
	// conflation of "absent" and "empty" (a GET of a zero-length value
	// returns nil instead of $0\r\n\r\n). spec.md §9 recommends fixing this
	// and only offering the old behavior as an explicit, configurable
	// opt-in; it defaults to false.
	BugCompatibleEmptyValue bool
}

// NewDispatcher constructs a Dispatcher over e.
func NewDispatcher(e *engine.Engine) *Dispatcher {
	return &Dispatcher{engine: e}
}

// Dispatch executes frame and returns the encoded reply. exit is true when
// the command was EXIT, signaling the caller to begin graceful shutdown
// after the reply has been flushed. A frame with no arguments (an empty
// legacy line) produces no reply at all.
func (d *Dispatcher) Dispatch(frame *proto.Frame) (reply []byte, exit bool) {
	cmd := frame.Command()
	if cmd == nil {
		return nil, false
	}

	switch strings.ToUpper(string(cmd)) {
	case "PING":
		return proto.EncodeSimpleString("PONG"), false

	case "SET":
		return d.dispatchSet(frame.Args), false

	case "GET":
		return d.dispatchGet(frame.Args), false

	case "DEL":
		return d.dispatchDel(frame.Args), false

	case "FLUSHALL", "FLUSHDB", "CLEAR":
		return d.dispatchClear(), false

	case "EXIT":
		return proto.EncodeSimpleString("OK"), true

	default:
		return proto.ErrUnknownCommand(string(cmd)), false
	}
}

func (d *Dispatcher) dispatchSet(args [][]byte) []byte {
	if len(args) != 3 {
		return proto.ErrWrongArgs("set")
	}
	key, value := args[1], args[2]

	if err := d.engine.Put(key, value); err != nil {
		return proto.EncodeError("ERR " + err.Error())
	}
	return proto.EncodeSimpleString("OK")
}

func (d *Dispatcher) dispatchGet(args [][]byte) []byte {
	if len(args) != 2 {
		return proto.ErrWrongArgs("get")
	}
	key := args[1]

	value, ok := d.engine.Get(key)
	if !ok {
		return proto.NilBulkString
	}
	if len(value) == 0 && d.BugCompatibleEmptyValue {
		return proto.NilBulkString
	}
	return proto.EncodeBulkString(value)
}

func (d *Dispatcher) dispatchDel(args [][]byte) []byte {
	if len(args) != 2 {
		return proto.ErrWrongArgs("del")
	}
	key := args[1]

	existed, err := d.engine.Del(key)
	if err != nil {
		return proto.EncodeError("ERR " + err.Error())
	}
	if existed {
		return proto.EncodeInteger(1)
	}
	return proto.EncodeInteger(0)
}

func (d *Dispatcher) dispatchClear() []byte {
	if err := d.engine.Clear(); err != nil {
		return proto.EncodeError("ERR " + err.Error())
	}
	return proto.EncodeSimpleString("OK")
}
