package cache

import (
	"sync"

	"github.com/gammazero/channelqueue"
)

// executor 以单 goroutine 顺序执行提交的闭包；队列无界，提交方永不阻塞。
// serializer 与 QueueDelivery 共用这一实现。
type executor struct {
	mu     sync.RWMutex
	closed bool
	queue  *channelqueue.ChannelQueue[func()]
	done   chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		queue: channelqueue.New[func()](-1),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.done)
	for op := range e.queue.Out() {
		op()
	}
}

// submit 异步排队 op；executor 已关闭时丢弃并返回 false。
func (e *executor) submit(op func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.queue.In() <- op
	return true
}

// call 排队 op 并等待其执行完毕。不可在 executor 自身的 goroutine 中调用。
func (e *executor) call(op func()) bool {
	done := make(chan struct{})
	if !e.submit(func() {
		defer close(done)
		op()
	}) {
		return false
	}
	<-done
	return true
}

// close 拒绝后续提交，执行完已排队的闭包后返回。
func (e *executor) close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.queue.Close()
	}
	e.mu.Unlock()
	<-e.done
}
