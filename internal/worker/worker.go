package worker

import "go.uber.org/zap"

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	logger     *zap.Logger
}

func NewWorker(id int, pool *jobChannelPool, logger *zap.Logger) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		logger:     logger,
	}
}

// Start parks the worker in the idle list and runs jobs until told to stop.
func (w *Worker) Start() {
	go func() {
		for {
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				w.logger.Debug("worker stopped", zap.Int("worker", w.id))
				return
			}
			err := job.execute()
			if err != nil {
				w.logger.Error("job failed",
					zap.Int("worker", w.id),
					zap.String("type", string(job.Type)),
					zap.String("session", job.SessionID),
					zap.Error(err))
			}
			job.finish(err)
		}
	}()
}
