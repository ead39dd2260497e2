package emit

// Multi implements Emitter by fanning out to several emitters in order.
//
// Combine a Broker for live subscribers with a LogEmitter for diagnostics:
//
//	emitter := emit.Multi(broker, emit.NewLogEmitter(os.Stderr, false))
func Multi(emitters ...Emitter) Emitter {
	return multiEmitter(emitters)
}

type multiEmitter []Emitter

// Emit forwards the event to each emitter in registration order.
func (m multiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
