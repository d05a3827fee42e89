package reliable

// TimeBase is the monotonic clock supplied to the channel once per tick by
// the host loop (spec §6: "a monotonic TimeBase is supplied each tick").
// Timing itself is an external collaborator; the channel only ever reads
// the Time field it is handed.
type TimeBase struct {
	// Time is a monotonic seconds counter. Its origin is arbitrary; only
	// differences between two TimeBase values are meaningful.
	Time float64
}
