package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktile/tracktile/bittorrent"
)

func TestShardForIsDeterministic(t *testing.T) {
	f := NewFabric(2, 4, 0)
	var ih bittorrent.InfoHash
	ih[0] = 0
	ih[7] = 4 // shard key 4, mod 4 request workers == 0

	assert.Equal(t, 0, f.ShardFor(ih))
}

func TestSubmitRoutesToOwningRequestWorker(t *testing.T) {
	f := NewFabric(1, 2, 0)
	var ih bittorrent.InfoHash
	ih[7] = 1 // shard key 1, mod 2 == 1

	socket := f.SocketSide(0)
	dropped := socket.Submit(ih, Job{Kind: JobAnnounce})
	assert.False(t, dropped)

	req1 := f.RequestSide(1)
	cursor := 0
	job, ok := req1.Next(&cursor)
	require.True(t, ok)
	assert.Equal(t, JobAnnounce, job.Kind)

	req0 := f.RequestSide(0)
	assert.Equal(t, 0, req0.in[0].Len())
}

func TestBoundedQueueDropsAndCounts(t *testing.T) {
	f := NewFabric(1, 1, 2)
	var ih bittorrent.InfoHash

	socket := f.SocketSide(0)
	assert.False(t, socket.Submit(ih, Job{}))
	assert.False(t, socket.Submit(ih, Job{}))
	assert.True(t, socket.Submit(ih, Job{}), "third submit should be dropped at capacity 2")

	assert.EqualValues(t, 1, f.toRequest[0][0].Dropped())
}

func TestUnboundedQueueNeverDrops(t *testing.T) {
	f := NewFabric(1, 1, 0)
	var ih bittorrent.InfoHash
	socket := f.SocketSide(0)

	for i := 0; i < 10_000; i++ {
		assert.False(t, socket.Submit(ih, Job{}))
	}
}

func TestReplyRoutesToOriginatingSocketWorker(t *testing.T) {
	f := NewFabric(2, 1, 0)
	req := f.RequestSide(0)
	req.Reply(Result{Origin: Origin{SocketWorker: 1}})

	sock1 := f.SocketSide(1)
	results, _ := sock1.PollResults(0, 10)
	require.Len(t, results, 1)

	sock0 := f.SocketSide(0)
	results, _ = sock0.PollResults(0, 10)
	assert.Len(t, results, 0)
}

func TestFanInVisitsAllSocketWorkersFairly(t *testing.T) {
	f := NewFabric(3, 1, 0)
	var ih bittorrent.InfoHash

	f.SocketSide(0).Submit(ih, Job{Origin: Origin{SocketWorker: 0}})
	f.SocketSide(1).Submit(ih, Job{Origin: Origin{SocketWorker: 1}})
	f.SocketSide(2).Submit(ih, Job{Origin: Origin{SocketWorker: 2}})

	req := f.RequestSide(0)
	cursor := 0
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		job, ok := req.Next(&cursor)
		require.True(t, ok)
		seen[job.Origin.SocketWorker] = true
	}
	assert.Len(t, seen, 3, "every socket worker's job must be delivered")
}

func TestNextReturnsFalseOnceAllClosedAndDrained(t *testing.T) {
	f := NewFabric(1, 1, 0)
	req := f.RequestSide(0)
	f.toRequest[0][0].Close()

	cursor := 0
	_, ok := req.Next(&cursor)
	assert.False(t, ok)
}

func TestNextTimeoutReturnsOpenFalseOnceAllClosedAndDrained(t *testing.T) {
	f := NewFabric(1, 1, 0)
	req := f.RequestSide(0)
	f.toRequest[0][0].Close()

	cursor := 0
	_, ok, open := req.NextTimeout(&cursor, 10*time.Millisecond)
	assert.False(t, ok)
	assert.False(t, open)
}

func TestNextTimeoutGivesUpWhenNothingArrives(t *testing.T) {
	f := NewFabric(1, 1, 0)
	req := f.RequestSide(0)

	cursor := 0
	start := time.Now()
	_, ok, open := req.NextTimeout(&cursor, 20*time.Millisecond)
	assert.False(t, ok)
	assert.True(t, open, "queues are still open, just empty")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestNextTimeoutDeliversJobBeforeDeadline(t *testing.T) {
	f := NewFabric(1, 1, 0)
	var ih bittorrent.InfoHash

	f.SocketSide(0).Submit(ih, Job{Kind: JobScrape})

	req := f.RequestSide(0)
	cursor := 0
	job, ok, open := req.NextTimeout(&cursor, time.Second)
	require.True(t, ok)
	assert.True(t, open)
	assert.Equal(t, JobScrape, job.Kind)
}
