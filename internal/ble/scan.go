package ble

import "time"

// scanTimeout ends the scan window of generation gen.
type scanTimeout struct {
	gen uint64
}

func (scanTimeout) isEvent() {}

// scanSession collects the candidates of one scan window. Later sightings of
// a peripheral replace its metadata but keep its first-seen position.
type scanSession struct {
	active bool
	gen    uint64
	timer  *time.Timer
	order  []PeripheralID
	byID   map[PeripheralID]PrinterCandidate
}

// begin clears the candidate list and opens a new window.
func (s *scanSession) begin() uint64 {
	s.stopTimer()
	s.gen++
	s.active = true
	s.order = nil
	s.byID = make(map[PeripheralID]PrinterCandidate)
	return s.gen
}

// end freezes the candidate list.
func (s *scanSession) end() {
	s.stopTimer()
	s.active = false
}

// upsert records a sighting and reports whether the peripheral is new.
func (s *scanSession) upsert(c PrinterCandidate) bool {
	if s.byID == nil {
		s.byID = make(map[PeripheralID]PrinterCandidate)
	}
	_, seen := s.byID[c.ID]
	if !seen {
		s.order = append(s.order, c.ID)
	}
	s.byID[c.ID] = c
	return !seen
}

func (s *scanSession) candidates() []PrinterCandidate {
	out := make([]PrinterCandidate, 0, len(s.order))
	for _, id := range s.order {
		c := s.byID[id]
		c.ServiceUUIDs = append([]string(nil), c.ServiceUUIDs...)
		out = append(out, c)
	}
	return out
}

// copyCandidates returns a copy of list that shares no backing arrays with
// it.
func copyCandidates(list []PrinterCandidate) []PrinterCandidate {
	out := make([]PrinterCandidate, len(list))
	for i, c := range list {
		c.ServiceUUIDs = append([]string(nil), c.ServiceUUIDs...)
		out[i] = c
	}
	return out
}

func (s *scanSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
