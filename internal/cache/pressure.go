package cache

import "sync"

// purger 是内存压力信号需要的最小能力。
type purger interface {
	RemoveAll()
}

var pressure = struct {
	mu      sync.Mutex
	members map[purger]struct{}
}{members: make(map[purger]struct{})}

func register(p purger) {
	pressure.mu.Lock()
	pressure.members[p] = struct{}{}
	pressure.mu.Unlock()
}

func unregister(p purger) {
	pressure.mu.Lock()
	delete(pressure.members, p)
	pressure.mu.Unlock()
}

// NotifyMemoryPressure 在收到宿主的低内存信号时调用：清空所有存活实例的内存层。
// 磁盘层与在途加载不受影响。
func NotifyMemoryPressure() {
	pressure.mu.Lock()
	members := make([]purger, 0, len(pressure.members))
	for p := range pressure.members {
		members = append(members, p)
	}
	pressure.mu.Unlock()

	for _, p := range members {
		p.RemoveAll()
	}
}
