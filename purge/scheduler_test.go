package purge

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/registry"
)

type cell struct {
	name string
}

func (*cell) WeakReferenceable() bool { return true }

type sweepRecorder struct {
	mu        sync.Mutex
	positions []*hooking.HookPos
	decisions []PurgeDecision
}

func (r *sweepRecorder) Func(ctx hooking.HookCtx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.positions = append(r.positions, ctx.Pos)
	if d, ok := ctx.Detail.(PurgeDecision); ok {
		r.decisions = append(r.decisions, d)
	}
}

var _ = Describe("Scheduler", func() {
	var (
		mockCtrl *gomock.Controller
		tracker  *MockTracker
		counter  *MockCounter
		host     *MockHost
		s        *Scheduler
		handle   *registry.Handle
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracker = NewMockTracker(mockCtrl)
		counter = NewMockCounter(mockCtrl)
		host = NewMockHost(mockCtrl)

		s = MakeBuilder().
			WithTracker(tracker).
			WithCounter(counter).
			WithHost(host).
			WithInterval(20 * time.Millisecond).
			Build()

		var err error
		handle, err = registry.MakeBuilder().Build().Register(&cell{}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		s.Close()
		mockCtrl.Finish()
	})

	It("should panic without collaborators", func() {
		Expect(func() { MakeBuilder().Build() }).To(Panic())
		Expect(func() {
			MakeBuilder().
				WithTracker(tracker).WithCounter(counter).WithHost(host).
				WithInterval(0).
				Build()
		}).To(Panic())
	})

	It("should start disabled with the default interval", func() {
		d := MakeBuilder().
			WithTracker(tracker).WithCounter(counter).WithHost(host).
			Build()

		Expect(d.IsEnabled()).To(BeFalse())
		Expect(d.Interval()).To(Equal(DefaultInterval))
		_, ok := d.LastStats()
		Expect(ok).To(BeFalse())
	})

	Context("sweeping", func() {
		var a *cell

		BeforeEach(func() {
			a = &cell{name: "a"}
			tracker.EXPECT().Referents().Return([]any{a})
		})

		It("should purge a referent held only by its cycle and its handle", func() {
			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(2)
			counter.EXPECT().CircularReferenceCount(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).Return([]*registry.Handle{handle}, nil)
			host.EXPECT().RequestReclamation()

			stats := s.PurgeNow()

			Expect(stats.Scanned).To(Equal(1))
			Expect(stats.Purged).To(Equal(1))
			Expect(stats.HandlesKilled).To(Equal(1))
			Expect(s.SweepCount()).To(Equal(1))

			last, ok := s.LastStats()
			Expect(ok).To(BeTrue())
			Expect(last).To(Equal(stats))
		})

		It("should keep a referent with an external owner", func() {
			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(3)
			counter.EXPECT().CircularReferenceCount(a).Return(1)

			stats := s.PurgeNow()

			Expect(stats.Purged).To(Equal(0))
			Expect(stats.Skipped).To(Equal(0))
		})

		It("should purge without analysis when only handles hold it", func() {
			tracker.EXPECT().Count(a).Return(2)
			host.EXPECT().Liveness(a).Return(2)
			tracker.EXPECT().SeverIf(a, 2, gomock.Any()).Return([]*registry.Handle{handle, handle}, nil)
			host.EXPECT().RequestReclamation()

			stats := s.PurgeNow()

			Expect(stats.Purged).To(Equal(1))
			Expect(stats.HandlesKilled).To(Equal(2))
		})

		It("should subtract the liveness offset", func() {
			s = MakeBuilder().
				WithTracker(tracker).WithCounter(counter).WithHost(host).
				WithLivenessOffset(2).
				Build()

			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(4)
			counter.EXPECT().CircularReferenceCount(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).Return([]*registry.Handle{handle}, nil)
			host.EXPECT().RequestReclamation()

			Expect(s.PurgeNow().Purged).To(Equal(1))
		})

		It("should skip referents that died after the snapshot", func() {
			tracker.EXPECT().Count(a).Return(0)

			stats := s.PurgeNow()

			Expect(stats.Skipped).To(Equal(1))
		})

		It("should skip referents whose handles changed during the sweep", func() {
			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).Return(nil, nil)

			stats := s.PurgeNow()

			Expect(stats.Purged).To(Equal(0))
			Expect(stats.Skipped).To(Equal(1))
		})

		It("should skip referents rooted again during the analysis", func() {
			tracker.EXPECT().Count(a).Return(1)
			gomock.InOrder(
				host.EXPECT().Liveness(a).Return(2),
				host.EXPECT().Liveness(a).Return(3),
			)
			counter.EXPECT().CircularReferenceCount(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).
				DoAndReturn(func(_ any, _ int, confirm func() bool) ([]*registry.Handle, error) {
					if !confirm() {
						return nil, nil
					}

					return []*registry.Handle{handle}, nil
				})

			stats := s.PurgeNow()

			Expect(stats.Purged).To(Equal(0))
			Expect(stats.Skipped).To(Equal(1))
		})

		It("should confirm with the offset applied", func() {
			s = MakeBuilder().
				WithTracker(tracker).WithCounter(counter).WithHost(host).
				WithLivenessOffset(1).
				Build()

			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(3).Times(2)
			counter.EXPECT().CircularReferenceCount(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).
				DoAndReturn(func(_ any, _ int, confirm func() bool) ([]*registry.Handle, error) {
					Expect(confirm()).To(BeTrue())
					return []*registry.Handle{handle}, nil
				})
			host.EXPECT().RequestReclamation()

			Expect(s.PurgeNow().Purged).To(Equal(1))
		})

		It("should count referents whose callbacks failed", func() {
			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).
				Return([]*registry.Handle{handle}, errors.New("boom"))
			host.EXPECT().RequestReclamation()

			Expect(s.PurgeNow().Purged).To(Equal(1))
		})

		It("should invoke hooks", func() {
			rec := &sweepRecorder{}
			s.AcceptHook(rec)

			tracker.EXPECT().Count(a).Return(1)
			host.EXPECT().Liveness(a).Return(2)
			counter.EXPECT().CircularReferenceCount(a).Return(1)
			tracker.EXPECT().SeverIf(a, 1, gomock.Any()).Return([]*registry.Handle{handle}, nil)
			host.EXPECT().RequestReclamation()

			s.PurgeNow()

			Expect(rec.positions).To(Equal([]*hooking.HookPos{
				HookPosBeforeSweep, HookPosPurge, HookPosAfterSweep,
			}))
			Expect(rec.decisions).To(Equal([]PurgeDecision{
				{Liveness: 2, Circular: 1, Weak: 1},
			}))
		})
	})

	Context("scheduling", func() {
		BeforeEach(func() {
			tracker.EXPECT().Referents().Return(nil).AnyTimes()
		})

		It("should sweep periodically while enabled", func() {
			s.Enable()
			s.Enable()
			Expect(s.IsEnabled()).To(BeTrue())

			Eventually(s.SweepCount, time.Second).Should(BeNumerically(">=", 2))
		})

		It("should stop sweeping when disabled", func() {
			s.Enable()
			Eventually(s.SweepCount, time.Second).Should(BeNumerically(">=", 1))

			s.Disable()
			Expect(s.IsEnabled()).To(BeFalse())

			// let a tick already past the generation check finish
			time.Sleep(30 * time.Millisecond)
			count := s.SweepCount()
			Consistently(s.SweepCount, 100*time.Millisecond).Should(Equal(count))
		})

		It("should not sweep after disabling before the first tick", func() {
			s.Enable()
			s.Disable()

			Consistently(s.SweepCount, 100*time.Millisecond).Should(Equal(0))
		})

		It("should not enable once closed", func() {
			s.Close()
			s.Enable()

			Expect(s.IsEnabled()).To(BeFalse())
		})

		It("should sweep on demand while disabled", func() {
			s.PurgeNow()

			Expect(s.IsEnabled()).To(BeFalse())
			Expect(s.SweepCount()).To(Equal(1))
		})
	})
})
