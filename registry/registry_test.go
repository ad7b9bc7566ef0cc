package registry

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/weakref/hooking"
)

type node struct {
	name string
}

type native struct {
	id int
}

func (*native) WeakReferenceable() bool { return true }

type plain struct {
	id int
}

type box struct {
	V any
}

type hashed struct{}

func (*hashed) Hash() uint64 { return 42 }

type countingBinder struct {
	mu       sync.Mutex
	bindings map[any]int
	failOn   any
}

func newCountingBinder() *countingBinder {
	return &countingBinder{bindings: make(map[any]int)}
}

func (b *countingBinder) Bind(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if v == b.failOn {
		return errors.New("freed")
	}

	b.bindings[v]++

	return nil
}

func (b *countingBinder) Unbind(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bindings[v]--
}

func (b *countingBinder) count(v any) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.bindings[v]
}

var _ = Describe("TypeSet", func() {
	It("should be idempotent", func() {
		ts := NewTypeSet()
		t1 := RegisterType[node](ts)
		t2 := RegisterType[node](ts)

		Expect(t1).To(Equal(t2))
		Expect(t1).To(Equal(reflect.TypeOf(node{})))
		Expect(ts.Eligible(&node{})).To(BeTrue())
	})

	It("should accept values with the native capability", func() {
		ts := NewTypeSet()
		Expect(ts.Eligible(&native{})).To(BeTrue())
		Expect(ts.Eligible(&plain{})).To(BeFalse())
	})

	It("should reject nil and non-comparable values", func() {
		ts := NewTypeSet()
		ts.Register(reflect.TypeOf([]int{}))

		Expect(ts.Eligible(nil)).To(BeFalse())
		Expect(ts.Eligible([]int{1})).To(BeFalse())
	})

	It("should reject comparable types holding non-comparable values", func() {
		ts := NewTypeSet()
		RegisterType[box](ts)

		Expect(ts.Eligible(box{V: 1})).To(BeTrue())
		Expect(ts.Eligible(box{V: []int{1}})).To(BeFalse())
		Expect(ts.Eligible(box{V: map[string]int{}})).To(BeFalse())
	})
})

var _ = Describe("Registry", func() {
	var (
		binder *countingBinder
		reg    *Registry
	)

	BeforeEach(func() {
		binder = newCountingBinder()
		reg = MakeBuilder().WithBinder(binder).Build()
		RegisterType[node](reg.Types())
	})

	It("should refuse ineligible referents", func() {
		h, err := reg.Register(&plain{}, nil)

		Expect(h).To(BeNil())
		Expect(errors.Is(err, ErrIneligibleType)).To(BeTrue())
		Expect(reg.Stats().Handles).To(Equal(0))
	})

	It("should stay usable after refusing a non-comparable value", func() {
		RegisterType[box](reg.Types())

		_, err := reg.Register(box{V: []int{1}}, nil)
		Expect(err).To(MatchError(ErrIneligibleType))
		Expect(reg.Count(box{V: []int{1}})).To(Equal(0))

		n := &node{}
		h, err := reg.Register(n, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.List(n)).To(Equal([]*Handle{h}))
	})

	It("should surface binder failures", func() {
		n := &node{}
		binder.failOn = n

		_, err := reg.Register(n, nil)

		Expect(err).To(HaveOccurred())
		Expect(reg.Count(n)).To(Equal(0))
	})

	It("should resolve to the referent by identity", func() {
		n := &node{name: "a"}
		h, err := reg.Register(n, nil)
		Expect(err).NotTo(HaveOccurred())

		got, err := h.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(n))
		Expect(h.Alive()).To(BeTrue())
		Expect(binder.count(n)).To(Equal(1))
	})

	It("should list distinct handles in creation order", func() {
		n := &node{}
		h1, _ := reg.Register(n, nil)
		h2, _ := reg.Register(n, nil)
		h3, _ := reg.Register(n, nil)

		list := reg.List(n)
		Expect(cmp.Equal(list, []*Handle{h1, h2, h3},
			cmp.Comparer(func(a, b *Handle) bool { return a == b }))).To(BeTrue())
		Expect(reg.Count(n)).To(Equal(3))
	})

	It("should find handles by ID", func() {
		h, _ := reg.Register(&node{}, nil)

		found, ok := reg.Lookup(h.ID())
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(h))
	})

	It("should sever every handle and fire each callback once", func() {
		n := &node{}
		fired := map[*Handle]int{}
		cb := func(h *Handle) {
			fired[h]++
			Expect(h.Alive()).To(BeTrue())
		}
		h1, _ := reg.Register(n, cb)
		h2, _ := reg.Register(n, cb)

		killed, err := reg.Sever(n, 2)

		Expect(err).NotTo(HaveOccurred())
		Expect(killed).To(HaveLen(2))
		Expect(fired).To(Equal(map[*Handle]int{h1: 1, h2: 1}))
		Expect(h1.Alive()).To(BeFalse())
		Expect(h2.Alive()).To(BeFalse())
		Expect(reg.List(n)).To(BeEmpty())
		Expect(reg.Referents()).To(BeEmpty())
		Expect(binder.count(n)).To(Equal(0))

		killed, _ = reg.Sever(n, -1)
		Expect(killed).To(BeEmpty())
		Expect(fired).To(Equal(map[*Handle]int{h1: 1, h2: 1}))
	})

	It("should not sever when the handle count changed", func() {
		n := &node{}
		h, _ := reg.Register(n, nil)
		_, _ = reg.Register(n, nil)

		killed, _ := reg.Sever(n, 1)

		Expect(killed).To(BeEmpty())
		Expect(h.Alive()).To(BeTrue())
	})

	It("should not sever when the last check refuses", func() {
		n := &node{}
		h, _ := reg.Register(n, func(*Handle) { Fail("callback fired") })

		killed, err := reg.SeverIf(n, 1, func() bool { return false })

		Expect(err).NotTo(HaveOccurred())
		Expect(killed).To(BeEmpty())
		Expect(h.Alive()).To(BeTrue())
		Expect(reg.Count(n)).To(Equal(1))
		Expect(binder.count(n)).To(Equal(1))
	})

	It("should sever when the last check agrees", func() {
		n := &node{}
		h, _ := reg.Register(n, nil)
		checked := false

		killed, err := reg.SeverIf(n, 1, func() bool {
			checked = true
			return true
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(checked).To(BeTrue())
		Expect(killed).To(Equal([]*Handle{h}))
		Expect(h.Alive()).To(BeFalse())
	})

	It("should report no handles to callbacks of severed handles", func() {
		n := &node{}
		var seen []int
		_, _ = reg.Register(n, func(h *Handle) {
			seen = append(seen, reg.Count(n), len(reg.List(n)))
			Expect(h.Alive()).To(BeTrue())
		})

		_, err := reg.Sever(n, 1)

		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]int{0, 0}))
	})

	It("should allow callbacks to re-enter the registry", func() {
		n := &node{}
		var created *Handle
		_, _ = reg.Register(n, func(h *Handle) {
			created, _ = reg.Register(n, nil)
			Expect(reg.Count(n)).To(Equal(1))
		})

		_, err := reg.Kill(n)

		Expect(err).NotTo(HaveOccurred())
		Expect(created.Alive()).To(BeTrue())
		Expect(reg.List(n)).To(ConsistOf(created))
	})

	It("should report callback panics and still kill the handles", func() {
		n := &node{}
		h1, _ := reg.Register(n, func(*Handle) { panic("boom") })
		h2, _ := reg.Register(n, nil)

		killed, err := reg.Sever(n, -1)

		Expect(err).To(MatchError(ContainSubstring("boom")))
		Expect(killed).To(HaveLen(2))
		Expect(h1.Alive()).To(BeFalse())
		Expect(h2.Alive()).To(BeFalse())
	})

	It("should release a handle without calling back", func() {
		n := &node{}
		called := false
		h1, _ := reg.Register(n, func(*Handle) { called = true })
		h2, _ := reg.Register(n, nil)

		h1.Release()

		Expect(called).To(BeFalse())
		Expect(h1.Alive()).To(BeFalse())
		Expect(reg.List(n)).To(ConsistOf(h2))
		Expect(binder.count(n)).To(Equal(1))

		h2.Release()
		Expect(reg.Referents()).To(BeEmpty())
	})

	It("should raise hooks on creation and death", func() {
		var causes []KillCause
		created := 0
		reg.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			switch ctx.Pos {
			case HookPosHandleCreated:
				created++
			case HookPosHandleKilled:
				causes = append(causes, ctx.Detail.(KillCause))
			}
		}))

		n := &node{}
		h, _ := reg.Register(n, nil)
		_, _ = reg.Register(n, nil)
		h.Release()
		_, _ = reg.Kill(n)

		Expect(created).To(Equal(2))
		Expect(causes).To(Equal([]KillCause{CauseReleased, CauseReclaimed}))
	})

	It("should keep counts exact under concurrent registration", func() {
		n := &node{}
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for j := 0; j < 50; j++ {
					h, err := reg.Register(n, nil)
					Expect(err).NotTo(HaveOccurred())
					if j%2 == 0 {
						h.Release()
					}
				}
			}()
		}
		wg.Wait()

		Expect(reg.Count(n)).To(Equal(16 * 25))
		Expect(binder.count(n)).To(Equal(16 * 25))
	})

	Context("proxies", func() {
		It("should forget proxies when their handle dies", func() {
			n := &node{}
			h, _ := reg.Register(n, nil)
			id, err := reg.BindProxy(h)
			Expect(err).NotTo(HaveOccurred())

			bound, ok := reg.ProxyHandle(id)
			Expect(ok).To(BeTrue())
			Expect(bound).To(BeIdenticalTo(h))

			_, _ = reg.Kill(n)

			_, ok = reg.ProxyHandle(id)
			Expect(ok).To(BeFalse())
			Expect(reg.Stats().Proxies).To(Equal(0))

			_, err = reg.BindProxy(h)
			Expect(err).To(MatchError(ErrDeadReferent))
		})

		It("should release a proxy without killing the handle", func() {
			h, _ := reg.Register(&node{}, nil)
			id, _ := reg.BindProxy(h)

			reg.ReleaseProxy(id)

			_, ok := reg.ProxyHandle(id)
			Expect(ok).To(BeFalse())
			Expect(h.Alive()).To(BeTrue())
		})
	})
})

var _ = Describe("Handle", func() {
	var reg *Registry

	BeforeEach(func() {
		reg = MakeBuilder().Build()
		RegisterType[node](reg.Types())
		RegisterType[hashed](reg.Types())
	})

	It("should hash like its referent while alive", func() {
		n := &node{}
		h1, _ := reg.Register(n, nil)
		h2, _ := reg.Register(n, nil)

		v1, err := h1.Hash()
		Expect(err).NotTo(HaveOccurred())
		v2, _ := h2.Hash()
		Expect(v1).To(Equal(v2))

		hh, _ := reg.Register(&hashed{}, nil)
		Expect(hh.Hash()).To(Equal(uint64(42)))
	})

	It("should not hash once dead", func() {
		n := &node{}
		h, _ := reg.Register(n, nil)
		_, _ = reg.Kill(n)

		_, err := h.Hash()
		Expect(err).To(MatchError(ErrUnhashable))

		_, err = h.Get()
		Expect(err).To(MatchError(ErrDeadReferent))
		Expect(h.Callback()).To(BeNil())
	})

	It("should compare by referent while alive and by identity once dead", func() {
		n := &node{}
		h1, _ := reg.Register(n, nil)
		h2, _ := reg.Register(n, nil)
		other, _ := reg.Register(&node{}, nil)

		Expect(h1.Equal(h2)).To(BeTrue())
		Expect(h1.Equal(other)).To(BeFalse())

		_, _ = reg.Kill(n)
		Expect(h1.Equal(h2)).To(BeFalse())
		Expect(h1.Equal(h1)).To(BeTrue())
	})

	It("should describe itself", func() {
		n := &node{}
		h, _ := reg.Register(n, nil)
		Expect(h.String()).To(Equal("<weakref " + string(h.ID()) + " to *registry.node>"))

		_, _ = reg.Kill(n)
		Expect(h.String()).To(HaveSuffix("dead>"))
	})

	It("should refuse serialization", func() {
		h, _ := reg.Register(&node{}, nil)

		_, err := json.Marshal(h)
		Expect(errors.Is(err, ErrNotSerializable)).To(BeTrue())

		_, err = h.MarshalBinary()
		Expect(err).To(MatchError(ErrNotSerializable))
		_, err = h.GobEncode()
		Expect(err).To(MatchError(ErrNotSerializable))
	})
})

var _ = Describe("RemoveIfDead", func() {
	var reg *Registry

	BeforeEach(func() {
		reg = MakeBuilder().Build()
		RegisterType[node](reg.Types())
	})

	It("should only remove dead handles", func() {
		n := &node{}
		live, _ := reg.Register(&node{}, nil)
		dead, _ := reg.Register(n, nil)
		_, _ = reg.Kill(n)

		m := map[string]any{"live": live, "dead": dead, "other": 3}

		Expect(RemoveIfDead(m, "live")).To(BeFalse())
		Expect(RemoveIfDead(m, "dead")).To(BeTrue())
		Expect(RemoveIfDead(m, "other")).To(BeFalse())
		Expect(RemoveIfDead(m, "missing")).To(BeFalse())
		Expect(m).To(HaveLen(2))
	})
})

var _ = Describe("WeakValueMap", func() {
	var (
		reg *Registry
		m   *WeakValueMap[string]
	)

	BeforeEach(func() {
		reg = MakeBuilder().Build()
		RegisterType[node](reg.Types())
		m = NewWeakValueMap[string](reg)
	})

	It("should return live values", func() {
		n := &node{}
		Expect(m.Set("a", n)).To(Succeed())

		got, ok := m.Get("a")
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(n))
		Expect(m.Keys()).To(ConsistOf("a"))
	})

	It("should drop entries whose value died", func() {
		n := &node{}
		Expect(m.Set("a", n)).To(Succeed())
		Expect(m.Set("b", &node{})).To(Succeed())

		_, _ = reg.Kill(n)

		_, ok := m.Get("a")
		Expect(ok).To(BeFalse())
		Expect(m.Len()).To(Equal(1))
	})

	It("should release the handle of a replaced value", func() {
		first := &node{}
		Expect(m.Set("a", first)).To(Succeed())
		Expect(m.Set("a", &node{})).To(Succeed())

		Expect(reg.Count(first)).To(Equal(0))
		Expect(m.Len()).To(Equal(1))
	})

	It("should refuse ineligible values", func() {
		Expect(errors.Is(m.Set("a", &plain{}), ErrIneligibleType)).To(BeTrue())
	})

	It("should delete entries", func() {
		n := &node{}
		Expect(m.Set("a", n)).To(Succeed())
		m.Delete("a")

		Expect(m.Len()).To(Equal(0))
		Expect(reg.Count(n)).To(Equal(0))
	})
})
