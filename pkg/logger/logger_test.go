package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/facility-monitor/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("should fall back to defaults with a nil config", func() {
			Expect(logger.New(nil)).NotTo(BeNil())
		})

		It("should write JSON records by default", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Output: buf, Level: slog.LevelInfo})
			log.Info("frame received", "room", "sensor_7")

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("msg", "frame received"))
			Expect(entry).To(HaveKeyWithValue("room", "sensor_7"))
		})

		It("should write text records when asked", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Output: buf, Format: logger.FormatText})
			log.Info("heartbeat")
			Expect(buf.String()).To(ContainSubstring("msg=heartbeat"))
		})

		It("should filter records below the configured level", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Output: buf, Level: slog.LevelWarn})
			log.Info("quiet")
			Expect(buf.Len()).To(BeZero())
			log.Warn("loud")
			Expect(buf.String()).To(ContainSubstring("loud"))
		})
	})

	Describe("ParseLevel", func() {
		DescribeTable("should parse level strings",
			func(input string, expected slog.Level) {
				Expect(logger.ParseLevel(input)).To(Equal(expected))
			},
			Entry("debug", "debug", slog.LevelDebug),
			Entry("info", "info", slog.LevelInfo),
			Entry("warn", "warn", slog.LevelWarn),
			Entry("warning", "warning", slog.LevelWarn),
			Entry("error", "error", slog.LevelError),
			Entry("mixed case", " DEBUG ", slog.LevelDebug),
			Entry("invalid defaults to info", "invalid", slog.LevelInfo),
			Entry("empty defaults to info", "", slog.LevelInfo),
		)
	})

	Describe("ParseFormat", func() {
		It("should recognise text and default to JSON", func() {
			Expect(logger.ParseFormat("TEXT")).To(Equal(logger.FormatText))
			Expect(logger.ParseFormat("yaml")).To(Equal(logger.FormatJSON))
		})
	})

	Describe("WithComponent", func() {
		It("should stamp the component attribute", func() {
			buf := &bytes.Buffer{}
			log := logger.WithComponent(logger.New(&logger.Config{Output: buf}), "dispatcher")
			log.Info("dispatched")
			Expect(strings.TrimSpace(buf.String())).To(ContainSubstring(`"component":"dispatcher"`))
		})
	})

	Describe("WithContext", func() {
		It("should add fields to every record", func() {
			buf := &bytes.Buffer{}
			log := logger.WithContext(logger.New(&logger.Config{Output: buf}),
				slog.String("user", "facility-admin"),
			)
			log.Info("session opened")

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("user", "facility-admin"))
		})
	})

	Describe("Discard", func() {
		It("should accept records without output", func() {
			log := logger.Discard()
			Expect(func() { log.Error("dropped") }).NotTo(Panic())
		})
	})
})
