package ble

import "sync"

// EventSink receives manager events. Events are delivered one at a time, in
// the order they were emitted, on a goroutine owned by the Manager. Handlers
// may call back into the Manager.
type EventSink interface {
	ScanStarted()
	ScanStopped()
	PeripheralDiscovered(p Peripheral)
	Connected(p Peripheral)
	Disconnected(p Peripheral)
	ServicesDiscovered(services []Service)
	DataAvailable(v CharacteristicValue)
	OperationFailed(op Operation, err error)
}

// EventSinkFuncs adapts optional functions to an EventSink. Nil fields are
// ignored.
type EventSinkFuncs struct {
	OnScanStarted          func()
	OnScanStopped          func()
	OnPeripheralDiscovered func(Peripheral)
	OnConnected            func(Peripheral)
	OnDisconnected         func(Peripheral)
	OnServicesDiscovered   func([]Service)
	OnDataAvailable        func(CharacteristicValue)
	OnOperationFailed      func(Operation, error)
}

var _ EventSink = EventSinkFuncs{}

func (f EventSinkFuncs) ScanStarted() {
	if f.OnScanStarted != nil {
		f.OnScanStarted()
	}
}

func (f EventSinkFuncs) ScanStopped() {
	if f.OnScanStopped != nil {
		f.OnScanStopped()
	}
}

func (f EventSinkFuncs) PeripheralDiscovered(p Peripheral) {
	if f.OnPeripheralDiscovered != nil {
		f.OnPeripheralDiscovered(p)
	}
}

func (f EventSinkFuncs) Connected(p Peripheral) {
	if f.OnConnected != nil {
		f.OnConnected(p)
	}
}

func (f EventSinkFuncs) Disconnected(p Peripheral) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(p)
	}
}

func (f EventSinkFuncs) ServicesDiscovered(services []Service) {
	if f.OnServicesDiscovered != nil {
		f.OnServicesDiscovered(services)
	}
}

func (f EventSinkFuncs) DataAvailable(v CharacteristicValue) {
	if f.OnDataAvailable != nil {
		f.OnDataAvailable(v)
	}
}

func (f EventSinkFuncs) OperationFailed(op Operation, err error) {
	if f.OnOperationFailed != nil {
		f.OnOperationFailed(op, err)
	}
}

// dispatcher delivers queued events to the sink sequentially. The queue is
// unbounded so emitting never blocks the manager loop.
type dispatcher struct {
	sink EventSink

	mu      sync.Mutex
	queue   []func(EventSink)
	closing bool
	wake    chan struct{}
	done    chan struct{}
}

func newDispatcher(sink EventSink) *dispatcher {
	d := &dispatcher{
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(ev func(EventSink)) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events. Events already queued are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closing := d.closing
				d.mu.Unlock()
				if closing {
					return
				}
				break
			}
			ev := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			ev(d.sink)
		}
	}
}
