package provider

import (
	"runtime"

	"github.com/remeh/sizedwaitgroup"
)

// deliverJob is one client's ordered batch of frames, handed to the
// delivery pool so a slow peer's socket can't stall the broadcast to every
// other client on a best-block change.
type deliverJob struct {
	client *client
	frames []sendFrame
}

type deliverErr struct {
	clientID uint64
	err      error
}

// startSendPool launches the bounded fan-out workers, sized the same way
// job_manager.go's notification workers are: one per CPU, persistent for
// the life of the process, draining a shared queue.
func (p *Provider) startSendPool() {
	numWorkers := runtime.NumCPU()
	p.sendWg = sizedwaitgroup.New(numWorkers)
	for i := 0; i < numWorkers; i++ {
		p.sendWg.Add()
		go p.sendWorker()
	}
}

func (p *Provider) sendWorker() {
	defer p.sendWg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case job, ok := <-p.sendQueue:
			if !ok {
				return
			}
			for _, f := range job.frames {
				if err := job.client.send(f.msgType, f.payload); err != nil {
					select {
					case p.sendErrCh <- deliverErr{clientID: job.client.id, err: err}:
					case <-p.stopCh:
					}
					break
				}
			}
		}
	}
}

// enqueueDeliver hands a client's pre-built frames to the pool without
// blocking the event loop; if the queue is momentarily full the frames are
// dropped rather than stalling every client's delivery. Dropped frames are
// not resent; the client next hears from the provider when a later timer
// tick or best-block change builds it a new template.
func (p *Provider) enqueueDeliver(c *client, frames []sendFrame) {
	select {
	case p.sendQueue <- deliverJob{client: c, frames: frames}:
	default:
		p.log.Warn("send queue full, dropping template delivery", "client", c.id)
	}
}

func (p *Provider) stopSendPool() {
	close(p.sendQueue)
	p.sendWg.Wait()
}
