package worker

import "context"

type worker struct {
	pool *jobChannelPool
	jobs chan Job
}

func newWorker(pool *jobChannelPool) *worker {
	return &worker{
		pool: pool,
		jobs: make(chan Job),
	}
}

func (w *worker) start() {
	go func() {
		defer w.pool.retire(w.jobs)
		for {
			w.pool.release(w.jobs)
			select {
			case job := <-w.jobs:
				if job.stop {
					return
				}
				w.run(job)
			case <-w.pool.quit:
				return
			}
		}
	}()
}

func (w *worker) run(job Job) {
	if job.Ctx != nil && job.Ctx.Err() != nil {
		// caller gave up while the job was queued
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error("job panicked", "user_id", job.UserID, "panic", r)
		}
	}()
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	job.Run(ctx)
}
