/*
Package workers runs extraction jobs on a fixed pool of worker slots and
sizes that pool for containerized environments.

# Pool

A Pool owns N long-lived slots fed from a bounded queue. Submit never
blocks: when every slot is busy and the queue is full it returns
ErrQueueFull so the caller can fail the job instead of stalling a request.

	pool := workers.NewPool(workers.PoolConfig{
	    Size:        4,
	    QueueSize:   64,
	    TaskTimeout: 30 * time.Minute,
	    Handler:     manager.HandleEvent,
	})
	pool.Start()
	defer pool.Stop(ctx)

	err := pool.Submit(workers.Task{
	    JobID: job.ID,
	    Run: func(ctx context.Context, r workers.Reporter) (workers.Outcome, error) {
	        r.Progress(5, "metadata")
	        ...
	    },
	})

Each task reports through a Reporter. The pool emits a progress event at 0
when a slot picks the task up, forwards the task's own progress events, and
finishes with exactly one completed or error event. Events are handed to the
Handler from a single dispatcher goroutine, so a slow handler never runs on a
worker's stack and events for one job arrive in order. A panicking task is
recovered and reported as an error event.

Stop closes the queue, lets queued and running tasks finish, and waits for
the dispatcher to deliver their last events. If its context ends first,
running tasks are canceled.

# Sizing

Go sets GOMAXPROCS from the container CPU limit, while runtime.NumCPU still
reports host CPUs. Slots sizes pools from GOMAXPROCS. DefaultSlots, used
when WORKER_COUNT is unset, gives two slots per CPU capped at
DefaultMaxSlots, since a slot mostly waits on the network and on yt-dlp and
ffmpeg.

# Memory Gate

PoolConfig.Gate is consulted before a slot takes its next task. The server
passes a memory.Monitor, so under memory pressure slots finish their current
job and then wait until the heap has dropped back.
*/
package workers
