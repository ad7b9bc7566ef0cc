package heap

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/proxy"
)

type reclaimLog struct {
	mu     sync.Mutex
	freed  []*Object
	causes []ReclaimCause
}

func (l *reclaimLog) Func(ctx hooking.HookCtx) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.freed = append(l.freed, ctx.Item.(*Object))
	l.causes = append(l.causes, ctx.Detail.(ReclaimCause))
}

func (l *reclaimLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.freed)
}

var _ = Describe("Heap", func() {
	var (
		h    *Heap
		logs *reclaimLog
	)

	BeforeEach(func() {
		h = MakeBuilder().Build()
		logs = &reclaimLog{}
		h.AcceptHook(logs)
	})

	AfterEach(func() {
		h.Close()
	})

	It("should root new objects once", func() {
		o := h.NewInstance("Node")

		Expect(h.Liveness(o)).To(Equal(1))
		Expect(o.TypeName()).To(Equal("Node"))
		Expect(o.Kind()).To(Equal(KindInstance))
		Expect(h.Stats().Live).To(Equal(1))
	})

	It("should report unknown liveness for foreign values", func() {
		other := MakeBuilder().Build()
		defer other.Close()

		Expect(h.Liveness(42)).To(Equal(Unknown))
		Expect(h.Liveness(other.NewList())).To(Equal(Unknown))
	})

	It("should count stored references", func() {
		a := h.NewInstance("Node")
		b := h.NewInstance("Node")

		Expect(a.SetAttr("next", b)).To(Succeed())
		Expect(h.Liveness(b)).To(Equal(2))

		Expect(a.SetAttr("next", nil)).To(Succeed())
		Expect(h.Liveness(b)).To(Equal(1))
	})

	It("should free on the last release and cascade", func() {
		a := h.NewInstance("Node")
		b := h.NewInstance("Node")
		Expect(a.SetAttr("next", b)).To(Succeed())
		h.Release(b)
		Expect(b.Freed()).To(BeFalse())

		h.Release(a)

		Expect(a.Freed()).To(BeTrue())
		Expect(b.Freed()).To(BeTrue())
		Expect(h.Liveness(a)).To(Equal(0))
		Expect(logs.freed).To(ConsistOf(a, b))
		Expect(logs.causes).To(HaveEach(ReclaimRefcount))
	})

	It("should keep objects bound by weak handles until unbound", func() {
		o := h.NewInstance("Node")
		Expect(h.Bind(o)).To(Succeed())
		h.Release(o)

		Expect(o.Freed()).To(BeFalse())
		Expect(h.Liveness(o)).To(Equal(1))

		h.Unbind(o)
		Expect(o.Freed()).To(BeTrue())
		Expect(h.Bind(o)).To(MatchError(ErrFreed))
	})

	It("should not free cycles by reference counting", func() {
		a := h.NewInstance("Node")
		b := h.NewInstance("Node")
		Expect(a.SetAttr("peer", b)).To(Succeed())
		Expect(b.SetAttr("peer", a)).To(Succeed())
		h.Release(a)
		h.Release(b)

		Expect(a.Freed()).To(BeFalse())
		Expect(h.Liveness(a)).To(Equal(1))

		Expect(h.Collect()).To(Equal(2))
		Expect(a.Freed()).To(BeTrue())
		Expect(b.Freed()).To(BeTrue())
		Expect(logs.causes).To(HaveEach(ReclaimCollect))
	})

	It("should not treat weak bindings as roots when collecting", func() {
		a := h.NewInstance("Node")
		Expect(a.SetAttr("self", a)).To(Succeed())
		Expect(h.Bind(a)).To(Succeed())
		h.Release(a)

		Expect(h.Collect()).To(Equal(1))
		Expect(a.Freed()).To(BeTrue())

		h.Unbind(a)
		Expect(h.Stats().Freed).To(Equal(1))
	})

	It("should release reachable children of collected garbage", func() {
		kept := h.NewInstance("Node")
		a := h.NewInstance("Node")
		Expect(a.SetAttr("self", a)).To(Succeed())
		Expect(a.SetAttr("kept", kept)).To(Succeed())
		h.Release(a)
		Expect(h.Liveness(kept)).To(Equal(2))

		Expect(h.Collect()).To(Equal(1))
		Expect(kept.Freed()).To(BeFalse())
		Expect(h.Liveness(kept)).To(Equal(1))
	})

	It("should collect on request in the background", func() {
		a := h.NewInstance("Node")
		Expect(a.SetAttr("self", a)).To(Succeed())
		h.Release(a)

		h.RequestReclamation()
		h.RequestReclamation()

		Eventually(a.Freed).Should(BeTrue())
		Eventually(func() int { return h.Stats().Collections }).
			Should(BeNumerically(">=", 1))
	})

	It("should notify OnReclaim callbacks without holding the heap lock", func() {
		var seen []*Object
		h.OnReclaim(func(o *Object) {
			seen = append(seen, o)
			Expect(h.Liveness(o)).To(Equal(0))
		})

		o := h.NewList()
		h.Release(o)

		Expect(seen).To(Equal([]*Object{o}))
	})

	It("should let reclaim callbacks of a collection collect again", func() {
		collections := 0
		h.OnReclaim(func(*Object) {
			collections++
			Expect(h.Collect()).To(Equal(0))
		})

		o := h.NewInstance("Node")
		Expect(o.SetAttr("self", o)).To(Succeed())
		h.Release(o)

		done := make(chan int)
		go func() { done <- h.Collect() }()

		Eventually(done).Should(Receive(Equal(1)))
		Expect(collections).To(Equal(1))
	})

	It("should enumerate children in a stable order", func() {
		d := h.NewDict()
		v := h.NewList()
		Expect(d.Put("k", v)).To(Succeed())
		Expect(d.Put(1, 2.5)).To(Succeed())

		var children []any
		Expect(h.Children(d, func(c any) { children = append(children, c) })).
			To(BeTrue())
		Expect(children).To(Equal([]any{"k", v, 1, 2.5}))

		Expect(h.Children(7, func(any) {})).To(BeFalse())
	})

	Context("instances", func() {
		It("should keep attributes in order", func() {
			o := h.NewInstance("Point")
			Expect(o.SetAttr("x", 1)).To(Succeed())
			Expect(o.SetAttr("y", 2)).To(Succeed())
			Expect(o.SetAttr("x", 3)).To(Succeed())

			Expect(o.Attrs()).To(Equal([]string{"x", "y"}))
			Expect(o.GetAttr("x")).To(Equal(3))

			Expect(o.DelAttr("x")).To(Succeed())
			_, err := o.GetAttr("x")
			Expect(err).To(MatchError(ErrKey))
			Expect(o.DelAttr("x")).To(MatchError(ErrKey))
		})

		It("should reject values the heap cannot account", func() {
			o := h.NewInstance("Point")

			Expect(o.SetAttr("bad", []int{1})).To(MatchError(ErrValue))
			Expect(o.Append(1)).To(MatchError(ErrKind))
		})

		It("should refuse freed objects", func() {
			o := h.NewInstance("Point")
			dead := h.NewInstance("Point")
			h.Release(dead)

			Expect(o.SetAttr("x", dead)).To(MatchError(ErrFreed))
			Expect(dead.SetAttr("x", 1)).To(MatchError(ErrFreed))
			Expect(h.Retain(dead)).To(MatchError(ErrFreed))
		})
	})

	Context("lists", func() {
		It("should support the item capabilities", func() {
			l := h.NewList()
			Expect(l.Append(1, "two", 3.0)).To(Succeed())

			Expect(l.Len()).To(Equal(3))
			Expect(l.GetItem(1)).To(Equal("two"))
			Expect(l.SetItem(1, 2)).To(Succeed())
			Expect(l.Contains(2)).To(BeTrue())
			Expect(l.DelItem(0)).To(Succeed())
			Expect(l.Len()).To(Equal(2))

			_, err := l.GetItem(5)
			Expect(err).To(MatchError(ErrIndex))
			_, err = l.GetItem("x")
			Expect(err).To(MatchError(ErrKey))
		})

		It("should release the elements it drops", func() {
			l := h.NewList()
			o := h.NewInstance("Node")
			Expect(l.Append(o)).To(Succeed())
			h.Release(o)

			Expect(l.SetIndex(0, nil)).To(Succeed())
			Expect(o.Freed()).To(BeTrue())
		})

		It("should concatenate", func() {
			l := h.NewList()
			Expect(l.Append(1)).To(Succeed())

			sum, err := l.BinaryOp(proxy.OpAdd, []any{2})
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.(*Object).Len()).To(Equal(2))
			Expect(h.Liveness(sum)).To(Equal(1))

			self, err := l.BinaryOp(proxy.OpIAdd, sum)
			Expect(err).NotTo(HaveOccurred())
			Expect(self).To(BeIdenticalTo(l))
			Expect(l.Len()).To(Equal(3))

			_, err = l.BinaryOp(proxy.OpSub, sum)
			Expect(err).To(MatchError(proxy.ErrUnsupported))
		})

		It("should iterate over a snapshot", func() {
			l := h.NewList()
			Expect(l.Append(1, 2, 3)).To(Succeed())

			var seen []any
			Expect(l.Iterate(func(e any) bool {
				seen = append(seen, e)
				Expect(l.Append(0)).To(Succeed())
				return len(seen) < 2
			})).To(Succeed())

			Expect(seen).To(Equal([]any{1, 2}))
			Expect(l.Bool()).To(BeTrue())
			Expect(h.NewList().Bool()).To(BeFalse())
		})
	})

	Context("dicts", func() {
		It("should hold keys and values strongly", func() {
			d := h.NewDict()
			k := h.NewInstance("Key")
			v := h.NewInstance("Value")
			Expect(d.Put(k, v)).To(Succeed())
			Expect(h.Liveness(k)).To(Equal(2))
			Expect(h.Liveness(v)).To(Equal(2))

			Expect(d.Item(k)).To(BeIdenticalTo(v))
			Expect(d.Remove(k)).To(Succeed())
			Expect(h.Liveness(k)).To(Equal(1))
			Expect(h.Liveness(v)).To(Equal(1))

			_, err := d.Item(k)
			Expect(err).To(MatchError(ErrKey))
		})
	})

	Context("funcs", func() {
		It("should call the body and hold its closure", func() {
			captured := h.NewInstance("Cell")
			f, err := h.NewFunc("inc", func(args ...any) (any, error) {
				return args[0].(int) + 1, nil
			}, captured)
			Expect(err).NotTo(HaveOccurred())

			Expect(f.IsCallable()).To(BeTrue())
			Expect(f.Call(1)).To(Equal(2))
			Expect(h.Liveness(captured)).To(Equal(2))

			h.Release(f)
			Expect(h.Liveness(captured)).To(Equal(1))
			_, err = f.Call(1)
			Expect(err).To(MatchError(ErrFreed))
		})
	})
})
