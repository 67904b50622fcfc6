package names_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ember/emberos/abi"
	namesclient "ember/emberos/client/names"
	"ember/emberos/hosted"
	"ember/emberos/kernel"
	"ember/emberos/services/names"
)

const wait = 5 * time.Second

func boot(t *testing.T) *hosted.Machine {
	t.Helper()
	log := zaptest.NewLogger(t)
	m, err := hosted.New(hosted.Config{Kernel: kernel.DefaultConfig(), Logger: log})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	_, err = m.Spawn("names", names.New(log, 0).Run, 0)
	require.NoError(t, err)
	return m
}

func TestResolveConnectAndCall(t *testing.T) {
	m := boot(t)
	got := make(chan [5]uintptr, 1)

	_, err := m.Spawn("a", func(th *hosted.Thread, _ [4]uintptr) {
		sid, err := th.CreateServer()
		if !assert.NoError(t, err) {
			return
		}
		reg, err := namesclient.Connect(th)
		if !assert.NoError(t, err) {
			return
		}
		if !assert.NoError(t, reg.Register("svc", sid)) {
			return
		}
		env, err := th.Receive(sid)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, uintptr(1), env.Body.ID)
		assert.NoError(t, th.ReturnScalar1(env.Sender, env.Body.Args[0]+1))
		th.Yield()
	}, 0)
	require.NoError(t, err)

	_, err = m.Spawn("b", func(th *hosted.Thread, _ [4]uintptr) {
		reg, err := namesclient.Connect(th)
		if !assert.NoError(t, err) {
			return
		}
		var cid abi.CID
		for {
			cid, err = reg.Dial("svc")
			if !errors.Is(err, abi.ErrServerNotFound) {
				break
			}
			th.Yield()
		}
		if !assert.NoError(t, err) {
			return
		}
		reply, err := th.BlockingScalar(cid, 1, 42)
		assert.NoError(t, err)
		assert.NoError(t, reg.Close())
		got <- reply
	}, 0)
	require.NoError(t, err)

	select {
	case reply := <-got:
		assert.Equal(t, uintptr(43), reply[0])
	case <-time.After(wait):
		t.Fatal("no reply from svc")
	}
}

func TestRegistryErrors(t *testing.T) {
	m := boot(t)
	errs := make(chan []error, 1)

	_, err := m.Spawn("client", func(th *hosted.Thread, _ [4]uintptr) {
		reg, err := namesclient.Connect(th)
		if !assert.NoError(t, err) {
			return
		}
		sid := abi.SID{5, 6, 7, 8}
		var out []error
		out = append(out, reg.Register("dup", sid))
		out = append(out, reg.Register("dup", sid))
		_, lerr := reg.Lookup("missing")
		out = append(out, lerr)
		out = append(out, reg.Register("zero", abi.SID{}))
		got, lerr := reg.Lookup("dup")
		out = append(out, lerr)
		assert.Equal(t, sid, got)
		errs <- out
	}, 0)
	require.NoError(t, err)

	select {
	case out := <-errs:
		require.Len(t, out, 5)
		assert.NoError(t, out[0])
		assert.ErrorIs(t, out[1], abi.ErrServerExists)
		assert.ErrorIs(t, out[2], abi.ErrServerNotFound)
		assert.ErrorIs(t, out[3], abi.ErrInvalidString)
		assert.NoError(t, out[4])
	case <-time.After(wait):
		t.Fatal("client never finished")
	}
}

func TestCapacity(t *testing.T) {
	log := zaptest.NewLogger(t)
	m, err := hosted.New(hosted.Config{Kernel: kernel.DefaultConfig(), Logger: log})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	_, err = m.Spawn("names", names.New(log, 1).Run, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	_, err = m.Spawn("client", func(th *hosted.Thread, _ [4]uintptr) {
		reg, err := namesclient.Connect(th)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, reg.Register("one", abi.SID{1}))
		done <- reg.Register("two", abi.SID{2})
	}, 0)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, abi.ErrOutOfMemory)
	case <-time.After(wait):
		t.Fatal("client never finished")
	}
}
