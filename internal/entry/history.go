package entry

import "zone-backtester/internal/market"

// DefaultHistoryCapacity bounds the price-origin lookback
const DefaultHistoryCapacity = 1000

// barHistory is a fixed-capacity ring buffer. Once full, each push evicts the oldest bar.
type barHistory struct {
	buf   []market.Bar
	start int
	size  int
}

func newBarHistory(capacity int) *barHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &barHistory{buf: make([]market.Bar, capacity)}
}

func (h *barHistory) push(bar market.Bar) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = bar
		h.size++
		return
	}
	h.buf[h.start] = bar
	h.start = (h.start + 1) % len(h.buf)
}

func (h *barHistory) len() int {
	return h.size
}

// at returns the i-th stored bar, 0 being the oldest
func (h *barHistory) at(i int) market.Bar {
	return h.buf[(h.start+i)%len(h.buf)]
}
