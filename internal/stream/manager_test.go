package stream_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/facility-monitor/internal/stream"
	"procodus.dev/facility-monitor/pkg/cache"
	"procodus.dev/facility-monitor/pkg/eventlog"
	"procodus.dev/facility-monitor/pkg/logger"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/notify"
	"procodus.dev/facility-monitor/pkg/roster"
	"procodus.dev/facility-monitor/pkg/transport"
	"procodus.dev/facility-monitor/pkg/transport/mock"
)

var _ = Describe("Manager", func() {
	var (
		ctx      context.Context
		tr       *mock.MockTransport
		store    *cache.MemoryStore
		sensors  *roster.Static
		log      *eventlog.Memory
		emitter  *recordingEmitter
		mgr      *stream.Manager
		sm       *metrics.StreamMetrics
		interval time.Duration
		statusMu sync.Mutex
		statuses []stream.Status
	)

	BeforeEach(func() {
		ctx = context.Background()
		tr = mock.NewMockTransport()
		store = cache.NewMemoryStore()
		sensors = roster.NewStatic(roster.FromIDs("A1"))
		Expect(store.SetList(ctx, sensors.Sensors())).To(Succeed())
		log = eventlog.NewMemory(16)
		emitter = &recordingEmitter{}
		sm = metrics.NewStreamMetrics(prometheus.NewRegistry())
		interval = time.Hour
		statuses = nil
	})

	JustBeforeEach(func() {
		reconciler, err := cache.NewReconciler(&cache.ReconcilerConfig{Store: store, Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
		dispatcher, err := stream.NewDispatcher(&stream.DispatcherConfig{
			Logger:  logger.Discard(),
			Applier: reconciler,
			Log:     log,
			Emitter: emitter,
		})
		Expect(err).NotTo(HaveOccurred())

		mgr, err = stream.NewManager(&stream.Config{
			Logger:            logger.Discard(),
			Transport:         tr,
			Roster:            sensors,
			Dispatcher:        dispatcher,
			Notifier:          emitter,
			Username:          "alice",
			HeartbeatInterval: interval,
		})
		Expect(err).NotTo(HaveOccurred())
		mgr.SetMetrics(sm)
		mgr.OnStatus(func(s stream.Status) {
			statusMu.Lock()
			statuses = append(statuses, s)
			statusMu.Unlock()
		})
		Expect(mgr.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(mgr.Close()).To(Succeed())
	})

	open := func() {
		tr.Open()
		mgr.Flush()
	}

	It("should validate its config", func() {
		_, err := stream.NewManager(&stream.Config{Logger: logger.Discard()})
		Expect(err).To(MatchError("transport cannot be nil"))
	})

	It("should start connecting", func() {
		Expect(tr.ConnectCalls).To(Equal(1))
		Expect(mgr.Status().State).To(Equal(stream.StateConnecting))
		Expect(tr.Rooms(transport.EventSubscribe)).To(BeEmpty())
	})

	It("should refuse a second Start", func() {
		Expect(mgr.Start(ctx)).To(HaveOccurred())
	})

	Context("when the connection opens", func() {
		JustBeforeEach(open)

		It("should subscribe the user room and every known sensor", func() {
			Expect(tr.Rooms(transport.EventSubscribe)).To(Equal([]string{"alice", "sensor_A1"}))

			st := mgr.Status()
			Expect(st.State).To(Equal(stream.StateOpen))
			Expect(st.Rooms).To(Equal([]string{"alice", "sensor_A1"}))
			Expect(testutil.ToFloat64(sm.ConnectionStatus)).To(Equal(1.0))
			Expect(testutil.ToFloat64(sm.SubscribedRooms)).To(Equal(2.0))
		})

		It("should announce the connection", func() {
			Expect(emitter.all()).To(ContainElement(And(
				HaveField("Title", "Connected"),
				HaveField("Style", notify.StyleSuccess),
			)))
		})

		It("should run an event end to end", func() {
			tr.FireRaw("sensor_A1", []byte(`{"type":"air_quality","data":{"aqi":42},"message":"High AQI","sensor_id":"A1"}`))
			mgr.Flush()

			rec, ok, err := store.Detail(ctx, "A1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec).To(HaveKeyWithValue("aqi", 42.0))
			Expect(rec).To(HaveKey(cache.FieldTimestamp))

			list, _, _ := store.List(ctx)
			Expect(list).To(HaveLen(1))
			Expect(list[0]).To(HaveKeyWithValue("aqi", 42.0))
			Expect(list[0][cache.FieldTimestamp]).To(Equal(rec[cache.FieldTimestamp]))

			n := emitter.tagged("air_quality")
			Expect(n).To(HaveLen(1))
			Expect(n[0].Style).To(Equal(notify.StyleInfo))
			Expect(n[0].Duration).To(Equal(4 * time.Second))
			Expect(log.Len()).To(Equal(1))
		})

		It("should reconcile rooms when the roster changes", func() {
			sensors.Set(roster.FromIDs("B2", "C3"))
			Eventually(func() []string { return mgr.Status().Rooms }).
				Should(Equal([]string{"alice", "sensor_B2", "sensor_C3"}))
			Expect(tr.Rooms(transport.EventUnsubscribe)).To(Equal([]string{"sensor_A1"}))
			Expect(tr.ListenerCount("sensor_A1")).To(BeZero())
		})

		It("should drop frames for a room after it is unsubscribed", func() {
			sensors.Set(nil)
			Eventually(func() []string { return mgr.Status().Rooms }).Should(Equal([]string{"alice"}))

			tr.FireRaw("sensor_A1", []byte(`{"type":"alert","sensor_id":"A1"}`))
			mgr.Flush()
			Expect(emitter.tagged("alert")).To(BeEmpty())
		})

		Context("and then drops", func() {
			JustBeforeEach(func() {
				tr.Reset()
				tr.Drop("transport close")
				mgr.Flush()
			})

			It("should forget rooms locally without unsubscribing", func() {
				st := mgr.Status()
				Expect(st.State).To(Equal(stream.StateReconnecting))
				Expect(st.Rooms).To(BeEmpty())
				Expect(tr.Rooms(transport.EventUnsubscribe)).To(BeEmpty())
				Expect(tr.ListenerCount("sensor_A1")).To(BeZero())
				Expect(emitter.all()).To(ContainElement(HaveField("Style", notify.StyleError)))
			})

			It("should resubscribe everything on reconnect", func() {
				tr.Open()
				tr.Fire(transport.EventReconnect, 2)
				mgr.Flush()

				Expect(tr.Rooms(transport.EventSubscribe)).To(Equal([]string{"alice", "sensor_A1"}))
				Expect(tr.ListenerCount("sensor_A1")).To(Equal(1))
				Expect(mgr.Status().State).To(Equal(stream.StateOpen))
				Expect(testutil.ToFloat64(sm.ReconnectAttempts)).To(Equal(1.0))
			})

			It("should stay closed once reconnection is exhausted", func() {
				tr.Fire(transport.EventConnectError, "dial tcp: refused")
				tr.Fire(transport.EventReconnectFailed, 5)
				mgr.Flush()

				st := mgr.Status()
				Expect(st.State).To(Equal(stream.StateClosed))
				Expect(st.Exhausted).To(BeTrue())
				Expect(st.LastError).To(Equal("dial tcp: refused"))

				tr.Open()
				mgr.Flush()
				Expect(mgr.Status().State).To(Equal(stream.StateClosed))
				Expect(tr.Rooms(transport.EventSubscribe)).To(BeEmpty())
			})
		})

		It("should report every status change", func() {
			statusMu.Lock()
			defer statusMu.Unlock()
			Expect(statuses).NotTo(BeEmpty())
			Expect(statuses[len(statuses)-1].State).To(Equal(stream.StateOpen))
		})
	})

	Context("with a short heartbeat", func() {
		BeforeEach(func() {
			interval = 10 * time.Millisecond
		})

		It("should ping only while connected", func() {
			Consistently(func() []any { return tr.Emits(transport.EventPing) }, 50*time.Millisecond).Should(BeEmpty())

			open()
			Eventually(func() []any { return tr.Emits(transport.EventPing) }).ShouldNot(BeEmpty())
			Expect(tr.Emits(transport.EventPing)[0]).To(BeAssignableToTypeOf(transport.Ping{}))

			tr.SetConnected(false)
			mgr.Flush()
			time.Sleep(20 * time.Millisecond)
			n := len(tr.Emits(transport.EventPing))
			Consistently(func() []any { return tr.Emits(transport.EventPing) }, 50*time.Millisecond).Should(HaveLen(n))
		})

		It("should never ping again after Close", func() {
			open()
			Eventually(func() []any { return tr.Emits(transport.EventPing) }).ShouldNot(BeEmpty())

			Expect(mgr.Close()).To(Succeed())
			n := len(tr.Emits(transport.EventPing))
			tr.SetConnected(true)
			Consistently(func() []any { return tr.Emits(transport.EventPing) }, 60*time.Millisecond).Should(HaveLen(n))
		})
	})

	Describe("Close", func() {
		JustBeforeEach(open)

		It("should tear everything down", func() {
			Expect(mgr.Close()).To(Succeed())

			Expect(tr.Rooms(transport.EventUnsubscribe)).To(ConsistOf("alice", "sensor_A1"))
			Expect(tr.BoundEvents()).To(BeEmpty())
			Expect(tr.DisconnectCalls).To(Equal(1))
			Expect(mgr.Status().State).To(Equal(stream.StateClosed))
			Expect(mgr.Status().Exhausted).To(BeFalse())
		})

		It("should ignore frames on previously subscribed rooms", func() {
			before := len(emitter.all())
			Expect(mgr.Close()).To(Succeed())

			tr.FireRaw("sensor_A1", []byte(`{"type":"alert","sensor_id":"A1"}`))
			tr.Open()
			Expect(emitter.all()).To(HaveLen(before))
			_, ok, _ := store.Detail(ctx, "A1")
			Expect(ok).To(BeFalse())
			Expect(log.Len()).To(BeZero())
		})

		It("should be idempotent", func() {
			Expect(mgr.Close()).To(Succeed())
			Expect(mgr.Close()).To(Succeed())
			Expect(tr.DisconnectCalls).To(Equal(1))
		})
	})
})
