package cache_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/facility-monitor/pkg/cache"
)

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		store *cache.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = cache.NewMemoryStore()
	})

	It("should report a missing detail record", func() {
		_, ok, err := store.Detail(ctx, "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should hand out copies so readers cannot mutate the cache", func() {
		Expect(store.UpdateDetail(ctx, "7", func(cache.Record, bool) cache.Record {
			return cache.Record{"id": "7", "value": 1.0}
		})).To(Succeed())

		rec, ok, err := store.Detail(ctx, "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		rec["value"] = 99.0

		again, _, _ := store.Detail(ctx, "7")
		Expect(again).To(HaveKeyWithValue("value", 1.0))
	})

	It("should not create a list through UpdateList", func() {
		called := false
		Expect(store.UpdateList(ctx, func(l []cache.Record) []cache.Record {
			called = true
			return l
		})).To(Succeed())
		Expect(called).To(BeFalse())

		_, ok, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should keep an explicitly empty list", func() {
		Expect(store.SetList(ctx, nil)).To(Succeed())
		list, ok, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(list).To(BeEmpty())
	})
})
