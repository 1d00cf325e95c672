package motion

import "homesec-ng/internal/imu"

// DefaultHistorySize is the number of samples kept when Config.HistorySize
// is left at zero.
const DefaultHistorySize = 100

// History is a fixed-capacity ring of samples. Once full, Push overwrites the
// oldest entry. It is not safe for concurrent use; the Sensor guards it.
type History struct {
	buf  []imu.Sample
	head int // index of the oldest entry
	n    int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]imu.Sample, capacity)}
}

func (h *History) Push(s imu.Sample) {
	if h.n < len(h.buf) {
		h.buf[(h.head+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.head] = s
	h.head = (h.head + 1) % len(h.buf)
}

// Last returns the most recently pushed sample.
func (h *History) Last() (imu.Sample, bool) {
	if h.n == 0 {
		return imu.Sample{}, false
	}
	return h.buf[(h.head+h.n-1)%len(h.buf)], true
}

func (h *History) Len() int      { return h.n }
func (h *History) Cap() int      { return len(h.buf) }
func (h *History) IsEmpty() bool { return h.n == 0 }

func (h *History) Clear() {
	h.head = 0
	h.n = 0
}

// Samples appends the buffered samples to dst, oldest first.
func (h *History) Samples(dst []imu.Sample) []imu.Sample {
	for i := 0; i < h.n; i++ {
		dst = append(dst, h.buf[(h.head+i)%len(h.buf)])
	}
	return dst
}
