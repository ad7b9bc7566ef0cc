package heap

// Collect frees every object that cannot be reached from a root. Bindings of
// weak handles are not roots, so a cycle held only by weak handles is freed
// here and the reclaim hooks fire for each of its members.
//
// The hooks run once the heap is unlocked, so they may call Collect again.
func (h *Heap) Collect() int {
	h.mu.Lock()
	marked := h.mark()

	var garbage []*Object
	for o := range h.objects {
		if _, ok := marked[o]; !ok {
			garbage = append(garbage, o)
		}
	}

	var held []any
	for _, o := range garbage {
		h.free(o)
	}

	for _, o := range garbage {
		held = append(held, o.clear()...)
	}

	freed := append(garbage, h.decrefAll(held)...)
	h.stats.Collections++
	h.mu.Unlock()

	h.log.Debug().
		Int("freed", len(freed)).
		Msg("collection done")

	h.notify(freed, ReclaimCollect)

	return len(freed)
}

func (h *Heap) mark() map[*Object]struct{} {
	marked := make(map[*Object]struct{})

	var stack []*Object
	for o := range h.objects {
		if o.roots > 0 {
			stack = append(stack, o)
		}
	}

	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := marked[o]; ok {
			continue
		}

		marked[o] = struct{}{}
		stack = append(stack, o.children()...)
	}

	return marked
}

// RequestReclamation asks the background worker to run a collection soon.
// Requests made while one is pending are merged.
func (h *Heap) RequestReclamation() {
	select {
	case h.requests <- struct{}{}:
	default:
	}
}

func (h *Heap) collectLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case <-h.requests:
			h.Collect()
		}
	}
}

// Close stops the background worker.
func (h *Heap) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})

	h.wg.Wait()
}
