package ws

import (
	"context"
	"sync"
	"time"
)

// heartbeat 周期性调用 beat，直到 Stop 或 ctx 结束。
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startHeartbeat(ctx context.Context, every time.Duration, beat func(context.Context)) *heartbeat {
	hb := &heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	if every <= 0 {
		close(hb.done)
		return hb
	}
	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				beat(ctx)
			case <-hb.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return hb
}

// Stop 可重复调用，返回时 beat 不会再被调用。
func (hb *heartbeat) Stop() {
	hb.once.Do(func() { close(hb.stop) })
	<-hb.done
}
