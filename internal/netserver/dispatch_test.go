package netserver

import (
	"io"
	"log"
	"testing"

	"github.com/rpmoore/blinkdb/internal/engine"
	"github.com/rpmoore/blinkdb/internal/proto"
	"github.com/rpmoore/blinkdb/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	disk, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	eng, err := engine.New(disk, engine.Options{CacheCapacity: 16}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	return NewDispatcher(eng)
}

func frame(args ...string) *proto.Frame {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return &proto.Frame{Args: raw}
}

func TestDispatchPing(t *testing.T) {
	d := newTestDispatcher(t)

	reply, exit := d.Dispatch(frame("PING"))
	require.False(t, exit)
	require.Equal(t, proto.EncodeSimpleString("PONG"), reply)
}

func TestDispatchSetThenGet(t *testing.T) {
	d := newTestDispatcher(t)

	reply, _ := d.Dispatch(frame("SET", "foo", "bar"))
	require.Equal(t, proto.EncodeSimpleString("OK"), reply)

	reply, _ = d.Dispatch(frame("GET", "foo"))
	require.Equal(t, proto.EncodeBulkString([]byte("bar")), reply)
}

func TestDispatchGetMiss(t *testing.T) {
	d := newTestDispatcher(t)

	reply, _ := d.Dispatch(frame("GET", "missing"))
	require.Equal(t, proto.NilBulkString, reply)
}

func TestDispatchGetEmptyValue(t *testing.T) {
	d := newTestDispatcher(t)

	d.Dispatch(frame("SET", "empty", ""))

	reply, _ := d.Dispatch(frame("GET", "empty"))
	require.Equal(t, proto.EncodeBulkString([]byte{}), reply, "default behavior returns an empty bulk string, not nil")
}

func TestDispatchGetEmptyValueBugCompatible(t *testing.T) {
	d := newTestDispatcher(t)
	d.BugCompatibleEmptyValue = true

	d.Dispatch(frame("SET", "empty", ""))

	reply, _ := d.Dispatch(frame("GET", "empty"))
	require.Equal(t, proto.NilBulkString, reply)
}

func TestDispatchSetWrongArgs(t *testing.T) {
	d := newTestDispatcher(t)

	reply, _ := d.Dispatch(frame("SET", "onlykey"))
	require.Equal(t, proto.ErrWrongArgs("set"), reply)
}

func TestDispatchDelExistingThenMissing(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(frame("SET", "foo", "bar"))

	reply, _ := d.Dispatch(frame("DEL", "foo"))
	require.Equal(t, proto.EncodeInteger(1), reply)

	reply, _ = d.Dispatch(frame("DEL", "foo"))
	require.Equal(t, proto.EncodeInteger(0), reply)
}

func TestDispatchFlushVariants(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(frame("SET", "foo", "bar"))

	for _, cmd := range []string{"FLUSHALL", "FLUSHDB", "CLEAR"} {
		d.Dispatch(frame("SET", "foo", "bar"))
		reply, exit := d.Dispatch(frame(cmd))
		require.False(t, exit)
		require.Equal(t, proto.EncodeSimpleString("OK"), reply)

		reply, _ = d.Dispatch(frame("GET", "foo"))
		require.Equal(t, proto.NilBulkString, reply)
	}
}

func TestDispatchExitSignalsShutdown(t *testing.T) {
	d := newTestDispatcher(t)

	reply, exit := d.Dispatch(frame("EXIT"))
	require.True(t, exit)
	require.Equal(t, proto.EncodeSimpleString("OK"), reply)
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t)

	reply, exit := d.Dispatch(frame("FROBNICATE"))
	require.False(t, exit)
	require.Equal(t, proto.ErrUnknownCommand("FROBNICATE"), reply)
}

func TestDispatchEmptyFrameProducesNoReply(t *testing.T) {
	d := newTestDispatcher(t)

	reply, exit := d.Dispatch(&proto.Frame{})
	require.False(t, exit)
	require.Nil(t, reply)
}

func TestDispatchCaseInsensitiveCommand(t *testing.T) {
	d := newTestDispatcher(t)

	reply, _ := d.Dispatch(frame("ping"))
	require.Equal(t, proto.EncodeSimpleString("PONG"), reply)
}
