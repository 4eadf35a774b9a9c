package classifier

import "time"

type timedValue struct {
	at    time.Time
	value float64
}

// series 按时间递增追加的时序窗口
type series struct {
	items []timedValue
}

func (s *series) push(at time.Time, v float64) {
	s.items = append(s.items, timedValue{at: at, value: v})
}

// prune 丢弃早于 before 的数据
func (s *series) prune(before time.Time) {
	i := 0
	for i < len(s.items) && s.items[i].at.Before(before) {
		i++
	}
	if i == 0 {
		return
	}
	// 丢弃过半时整体搬移，避免底层数组无限增长
	if i > len(s.items)/2 {
		s.items = append(s.items[:0], s.items[i:]...)
		return
	}
	s.items = s.items[i:]
}

// since 返回 at >= from 的值
func (s *series) since(from time.Time) []float64 {
	var out []float64
	for _, it := range s.items {
		if !it.at.Before(from) {
			out = append(out, it.value)
		}
	}
	return out
}
