package monitor

import (
	"fmt"
	"runtime/debug"

	"chatwatch/internal/message"
	logx "chatwatch/pkg/logx"
)

// dispatch delivers one message to every callback in registration order.
// Each callback is isolated: a panic is recovered, logged, and published,
// and delivery continues with the next callback.
func (d *Detector) dispatch(m message.Message) {
	d.mu.Lock()
	cbs := d.callbacks
	d.mu.Unlock()

	for _, cb := range cbs {
		d.deliver(cb, m)
	}
}

func (d *Detector) deliver(cb namedCallback, m message.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Sprintf("%v", r)
			d.log.Error("callback panicked",
				logx.String("handler", cb.name),
				logx.Int64("message_id", m.ID),
				logx.String("panic", err),
				logx.Stack(string(debug.Stack())))
			d.publish(EventCallbackError, CallbackError{
				Handler:   cb.name,
				MessageID: m.ID,
				Err:       err,
			})
		}
	}()
	cb.fn(m)
}
