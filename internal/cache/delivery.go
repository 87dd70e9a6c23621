package cache

// Delivery is the execution context on which fetch callbacks run. It must run
// submitted work later, in submission order. Implementations must not run the
// work inline: callbacks may call back into the cache.
type Delivery interface {
	Submit(func())
}

// QueueDelivery runs callbacks one at a time on a dedicated goroutine.
type QueueDelivery struct {
	exec *executor
}

// NewQueueDelivery starts a delivery goroutine. Call Close to stop it.
func NewQueueDelivery() *QueueDelivery {
	return &QueueDelivery{exec: newExecutor()}
}

// Submit queues fn. Work submitted after Close is dropped.
func (d *QueueDelivery) Submit(fn func()) {
	d.exec.submit(fn)
}

// Close runs the callbacks already queued and stops the goroutine.
func (d *QueueDelivery) Close() {
	d.exec.close()
}
