package app

import (
	"errors"
	"time"

	"ember/emberos/abi"
	logclient "ember/emberos/client/logger"
	namesclient "ember/emberos/client/names"
	timerclient "ember/emberos/client/ticktimer"
	"ember/emberos/hosted"
	"ember/internal/buildinfo"
)

// EchoName is the registry name of the echo server started by init.
const EchoName = "echo"

// echoIncrement is the only echo opcode: reply with the argument plus one.
const echoIncrement = 1

// initProcess greets the console, proves the IPC path through a child
// server found via the registry, then prints the uptime once a second.
func initProcess(th *hosted.Thread, _ [4]uintptr) {
	lc, err := logclient.Connect(th)
	if err != nil {
		return
	}
	_ = lc.Logf("ember %s init pid %d", buildinfo.Short(), th.PID())

	if _, err := th.CreateProcess("echo", echoServer, 0); err != nil {
		_ = lc.Logf("spawn echo: %v", err)
	} else if n, err := callEcho(th, 41); err != nil {
		_ = lc.Logf("echo: %v", err)
	} else {
		_ = lc.Logf("echo 41 -> %d", n)
	}

	tc, err := timerclient.Connect(th)
	if err != nil {
		_ = lc.Logf("ticktimer: %v", err)
		return
	}
	for {
		if err := tc.Sleep(time.Second); err != nil {
			_ = lc.Logf("sleep: %v", err)
			return
		}
		up, err := tc.Elapsed()
		if err != nil {
			return
		}
		_ = lc.Post("uptime " + up.Truncate(time.Second).String())
	}
}

func callEcho(th *hosted.Thread, v uintptr) (uintptr, error) {
	reg, err := namesclient.Connect(th)
	if err != nil {
		return 0, err
	}
	defer reg.Close()
	var cid abi.CID
	for {
		cid, err = reg.Dial(EchoName)
		if !errors.Is(err, abi.ErrServerNotFound) {
			break
		}
		th.Yield()
	}
	if err != nil {
		return 0, err
	}
	defer th.Disconnect(cid)
	reply, err := th.BlockingScalar(cid, echoIncrement, v)
	if err != nil {
		return 0, err
	}
	return reply[0], nil
}

func echoServer(th *hosted.Thread, _ [4]uintptr) {
	sid, err := th.CreateServer()
	if err != nil {
		return
	}
	reg, err := namesclient.Connect(th)
	if err != nil {
		return
	}
	err = reg.Register(EchoName, sid)
	_ = reg.Close()
	if err != nil {
		return
	}
	env, err := th.Receive(sid)
	for err == nil {
		msg := env.Body
		switch {
		case msg.Kind == abi.KindBlockingScalar && msg.ID == echoIncrement:
			env, err = th.ReplyAndReceiveNext(env.Sender, abi.ReplyScalar1, [5]uintptr{msg.Args[0] + 1})
			continue
		case msg.Kind.Blocks():
			env, err = th.ReplyAndReceiveNext(env.Sender, abi.ReplyScalar1, [5]uintptr{uintptr(abi.ErrInvalidSyscall)})
			continue
		case msg.Kind == abi.KindMove:
			_ = th.UnmapMemory(msg.Buf())
		}
		env, err = th.Receive(sid)
	}
}
