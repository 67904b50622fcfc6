package ticktimer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ember/emberos/abi"
	timerclient "ember/emberos/client/ticktimer"
	"ember/emberos/hosted"
	"ember/emberos/kernel"
	"ember/emberos/proto"
	"ember/emberos/services/ticktimer"
)

const wait = 5 * time.Second

func TestSleepWakesWhenDue(t *testing.T) {
	log := zaptest.NewLogger(t)
	m, err := hosted.New(hosted.Config{Kernel: kernel.DefaultConfig(), Logger: log})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	_, err = m.Spawn("ticktimer", ticktimer.New(log).Run, 0)
	require.NoError(t, err)
	clock := ticktimer.NewClock(m)

	elapsed := make(chan time.Duration, 1)
	app, err := m.Spawn("app", func(th *hosted.Thread, _ [4]uintptr) {
		c, err := timerclient.Connect(th)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, c.Sleep(0))
		assert.NoError(t, c.Sleep(30*time.Millisecond))
		d, err := c.Elapsed()
		assert.NoError(t, err)
		elapsed <- d
	}, 0)
	require.NoError(t, err)

	// Sleep(0) answers at once; the second sleep is held by the timer,
	// which goes back to waiting for messages.
	require.Eventually(t, func() bool {
		for _, s := range m.Snapshot().Servers {
			if s.SID == proto.TicktimerSID {
				return s.AwaitingReply == 1 && s.Receivers == 1
			}
		}
		return false
	}, wait, time.Millisecond)

	require.NoError(t, clock.Advance(20))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, kernel.ThreadBlockedOnReturn, m.ThreadState(app, 1))
	select {
	case <-elapsed:
		t.Fatal("woke before the deadline")
	default:
	}

	require.NoError(t, clock.Advance(10))
	select {
	case d := <-elapsed:
		assert.Equal(t, 30*time.Millisecond, d)
	case <-time.After(wait):
		t.Fatal("sleeper never woke")
	}
}

type fullPoster struct {
	fail  error
	posts []uintptr
}

func (p *fullPoster) Post(_ abi.SID, msg abi.Message) error {
	if p.fail != nil {
		return p.fail
	}
	p.posts = append(p.posts, msg.Args[0])
	return nil
}

func TestClockCarriesUndeliveredTime(t *testing.T) {
	p := &fullPoster{fail: abi.ErrServerQueueFull}
	c := ticktimer.NewClock(p)

	require.NoError(t, c.Advance(3))
	require.NoError(t, c.Advance(4))
	assert.Equal(t, uintptr(7), c.Pending())

	p.fail = nil
	require.NoError(t, c.Advance(1))
	assert.Equal(t, []uintptr{8}, p.posts)
	assert.Zero(t, c.Pending())

	p.fail = abi.ErrInvalidSyscall
	assert.ErrorIs(t, c.Advance(1), abi.ErrInvalidSyscall)
}
