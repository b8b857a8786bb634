package worker

// Job is one unit of generation work for a room. Run is executed on a
// pooled worker goroutine; stop is internal to pool shutdown.
type Job struct {
	RoomID string
	Run    func()
	stop   bool
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		// announce availability; a fresh worker is acquirable before it has
		// ever run a job
		w.pool.Release(w.jobChannel)
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			if job.Run != nil {
				job.Run()
			}
			w.pool.Release(w.jobChannel)
		}
	}()
}
