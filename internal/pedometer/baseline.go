package pedometer

// Baseline is the cumulative counter value seen on the first sample of a
// subscription. Once captured it stays fixed until Reset.
type Baseline struct {
	value float64
	set   bool
}

// Delta captures the baseline on first use and returns the steps counted
// since then.
func (b *Baseline) Delta(cumulative float64) int {
	if !b.set {
		b.value = cumulative
		b.set = true
	}
	return int(cumulative - b.value)
}

// Value returns the captured baseline, if any.
func (b *Baseline) Value() (float64, bool) {
	return b.value, b.set
}

// Reset forgets the baseline so the next sample captures a new one.
func (b *Baseline) Reset() {
	b.value = 0
	b.set = false
}
