package protocol

// startPolling schedules the link's write value at a fixed delay, first
// tick immediately.
func (r *Runtime) startPolling(link *AttributeLink) {
	msg := link.Meta.WriteValue
	r.logger.Debug("scheduling polling request",
		"attribute", link.Ref.String(), "interval_ms", link.Meta.PollingInterval.Milliseconds())

	task := r.sched.Every(0, link.Meta.PollingInterval, func() { r.poll(link, msg) })
	link.setPollingTask(task)
}

func (r *Runtime) poll(link *AttributeLink, msg string) {
	if !r.registry.IsCurrent(link) {
		return
	}

	var err error
	sent := link.deliver(func() {
		r.polls.Add(1)
		err = link.client.correlator.Send(link.Ref, msg, link.Policy, link.matcher, func(resp string, err error) {
			r.onPollResponse(link, resp, err)
		})
	})
	if !sent {
		return
	}
	if err != nil {
		r.logger.Debug("polling request not sent", "attribute", link.Ref.String(), "error", err)
	}
}

// onPollResponse applies a poll outcome: a response sets the value, a
// timeout clears it. Outcomes for unlinked attributes are dropped.
func (r *Runtime) onPollResponse(link *AttributeLink, resp string, err error) {
	var value any
	if err == nil {
		value = inboundValue(link.Meta, resp)
	}
	delivered := link.deliver(func() {
		r.logger.Debug("polling response received, updating attribute", "attribute", link.Ref.String(), "ok", err == nil)
		r.emit(link.Ref, value)
	})
	if !delivered {
		r.lateDropped.Add(1)
		r.logger.Debug("dropping response for unlinked attribute", "attribute", link.Ref.String())
	}
}
