package pipeline

import (
	"github.com/nerrad567/ebus-bridge/internal/alert"
	"github.com/nerrad567/ebus-bridge/internal/ebus"
	"github.com/nerrad567/ebus-bridge/internal/sensor"
)

func (p *Pipeline) publishMessage(msg ebus.Message) {
	p.subMu.RLock()
	handlers := p.messageHandlers
	p.subMu.RUnlock()
	for _, h := range handlers {
		p.safeCall("message", func() { h(msg) })
	}
}

func (p *Pipeline) publishSensors(values []sensor.Value) {
	p.subMu.RLock()
	handlers := p.sensorHandlers
	p.subMu.RUnlock()
	for _, h := range handlers {
		p.safeCall("sensors", func() { h(values) })
	}
}

func (p *Pipeline) publishAlerts(active []alert.Alert) {
	p.subMu.RLock()
	handlers := p.alertHandlers
	p.subMu.RUnlock()
	for _, h := range handlers {
		p.safeCall("alerts", func() { h(active) })
	}
}

func (p *Pipeline) publishRaised(a alert.Alert) {
	p.subMu.RLock()
	handlers := p.raisedHandlers
	p.subMu.RUnlock()
	for _, h := range handlers {
		p.safeCall("alert", func() { h(a) })
	}
}

// safeCall runs fn and turns a panic into a log line and a counter.
func (p *Pipeline) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.statsMu.Lock()
			p.stats.SubscriberPanics++
			p.statsMu.Unlock()
			p.metrics.ObservePanic()
			p.logger.Error("subscriber panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}
