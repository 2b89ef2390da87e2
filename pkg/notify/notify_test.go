package notify_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/facility-monitor/pkg/logger"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/notify"
)

var _ = Describe("Queue", func() {
	It("should stamp and deliver notifications", func() {
		q := notify.NewQueue(4)
		q.Emit(notify.Notification{Title: "Alert", Style: notify.StyleWarning, Duration: 5 * time.Second})

		Expect(q.Len()).To(Equal(1))
		n := <-q.C()
		Expect(n.Title).To(Equal("Alert"))
		Expect(n.At).NotTo(BeZero())
	})

	It("should drop instead of blocking when full", func() {
		q := notify.NewQueue(1)
		m := metrics.NewStreamMetrics(prometheus.NewRegistry())
		q.SetMetrics(m)

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.Emit(notify.Notification{Title: "one", Style: notify.StyleInfo})
			q.Emit(notify.Notification{Title: "two", Style: notify.StyleInfo})
		}()

		Eventually(done).Should(BeClosed())
		Expect(q.Dropped()).To(Equal(uint64(1)))
		Expect(testutil.ToFloat64(m.NotificationsDropped)).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.Notifications.WithLabelValues("info"))).To(Equal(1.0))
	})

	It("should default the buffer size", func() {
		q := notify.NewQueue(0)
		for range notify.DefaultQueueSize {
			q.Emit(notify.Notification{})
		}
		Expect(q.Dropped()).To(BeZero())
	})
})

var _ = Describe("Tray", func() {
	var (
		mu   sync.Mutex
		now  time.Time
		tray *notify.Tray
	)

	BeforeEach(func() {
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		tray = notify.NewTray()
		tray.SetClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		})
	})

	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	It("should dismiss notifications after their lifetime", func() {
		tray.Add(notify.Notification{Title: "status", Duration: 3 * time.Second})
		tray.Add(notify.Notification{Title: "alert", Duration: 5 * time.Second})
		Expect(tray.Active()).To(HaveLen(2))

		advance(4 * time.Second)
		active := tray.Active()
		Expect(active).To(HaveLen(1))
		Expect(active[0].Title).To(Equal("alert"))

		advance(time.Second)
		Expect(tray.Active()).To(BeEmpty())
	})
})

var _ = Describe("Sink", func() {
	It("should move queued notifications into the tray and the log", func() {
		buf := &bytes.Buffer{}
		var mu sync.Mutex
		log := logger.New(&logger.Config{Output: &lockedWriter{mu: &mu, w: buf}, Level: slog.LevelInfo})

		q := notify.NewQueue(4)
		tray := notify.NewTray()
		sink := notify.NewSink(log, q, tray)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go sink.Run(ctx)

		q.Emit(notify.Notification{Title: "Sound Event", Style: notify.StyleWarning, Duration: time.Minute})

		Eventually(tray.Active).Should(HaveLen(1))
		Eventually(func() string {
			mu.Lock()
			defer mu.Unlock()
			return buf.String()
		}).Should(ContainSubstring(`"level":"WARN"`))
	})
})

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
