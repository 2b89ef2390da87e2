package transport_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/facility-monitor/pkg/transport"
)

var _ = Describe("Listeners", func() {
	var l *transport.Listeners

	BeforeEach(func() {
		l = &transport.Listeners{}
	})

	It("should call handlers in registration order", func() {
		var order []int
		l.On("sensor_1", func(json.RawMessage) { order = append(order, 1) })
		l.On("sensor_1", func(json.RawMessage) { order = append(order, 2) })
		l.On("sensor_2", func(json.RawMessage) { order = append(order, 3) })

		l.Fire("sensor_1", json.RawMessage(`{}`))
		Expect(order).To(Equal([]int{1, 2}))
	})

	It("should release a handler exactly once", func() {
		calls := 0
		release := l.On("sensor_1", func(json.RawMessage) { calls++ })
		keep := l.On("sensor_1", func(json.RawMessage) {})
		defer keep()

		release()
		release()
		Expect(l.Count("sensor_1")).To(Equal(1))

		l.Fire("sensor_1", nil)
		Expect(calls).To(BeZero())
	})

	It("should forget an event once its last handler is released", func() {
		release := l.On("sensor_1", func(json.RawMessage) {})
		Expect(l.Events()).To(Equal([]string{"sensor_1"}))
		release()
		Expect(l.Events()).To(BeEmpty())
	})

	It("should allow a handler to release itself while firing", func() {
		var release func()
		calls := 0
		release = l.On("ping", func(json.RawMessage) {
			calls++
			release()
		})

		l.Fire("ping", nil)
		l.Fire("ping", nil)
		Expect(calls).To(Equal(1))
	})

	DescribeTable("IsLifecycle",
		func(name string, want bool) {
			Expect(transport.IsLifecycle(name)).To(Equal(want))
		},
		Entry("connect", transport.EventConnect, true),
		Entry("disconnect", transport.EventDisconnect, true),
		Entry("connect_error", transport.EventConnectError, true),
		Entry("reconnect", transport.EventReconnect, true),
		Entry("reconnect_failed", transport.EventReconnectFailed, true),
		Entry("room", "sensor_1", false),
		Entry("ping", transport.EventPing, false),
	)
})

var _ = DescribeTable("reconnection budget",
	func(retry, limit int, want bool) {
		Expect(transport.RetriesLeft(retry, limit)).To(Equal(want))
	},
	Entry("first dial failed", 0, 2, true),
	Entry("one retry made", 1, 2, true),
	Entry("budget spent", 2, 2, false),
	Entry("reconnection bounded to zero", 0, 0, false),
)
