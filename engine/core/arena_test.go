package core

import "testing"

type testTag struct{}

func TestArenaInsertGet(t *testing.T) {
	a := NewArena[testTag, string]()
	h := a.Insert("first")
	if h.IsNil() {
		t.Fatalf("Insert: have nil handle\nwant non-nil")
	}
	if v, ok := a.Get(h); !ok || v != "first" {
		t.Errorf("Get(%v)\nhave %q, %t\nwant %q, true", h, v, ok, "first")
	}
	if n := a.Len(); n != 1 {
		t.Errorf("Len()\nhave %d\nwant 1", n)
	}
}

func TestArenaStaleHandle(t *testing.T) {
	a := NewArena[testTag, int]()
	old := a.Insert(1)
	if _, ok := a.Remove(old); !ok {
		t.Fatalf("Remove(%v): have false\nwant true", old)
	}
	if _, ok := a.Remove(old); ok {
		t.Errorf("second Remove(%v): have true\nwant false", old)
	}

	// The slot is reused with a new generation.
	reused := a.Insert(2)
	if reused.Index() != old.Index() {
		t.Errorf("reused.Index()\nhave %d\nwant %d", reused.Index(), old.Index())
	}
	if reused.Generation() == old.Generation() {
		t.Errorf("reused.Generation()\nhave %d\nwant != %d", reused.Generation(), old.Generation())
	}
	if _, ok := a.Get(old); ok {
		t.Errorf("Get(stale %v): have true\nwant false", old)
	}
	if v, ok := a.Get(reused); !ok || v != 2 {
		t.Errorf("Get(%v)\nhave %d, %t\nwant 2, true", reused, v, ok)
	}
}

func TestArenaNilHandle(t *testing.T) {
	a := NewArena[testTag, int]()
	var h Handle[testTag]
	if !h.IsNil() {
		t.Errorf("zero Handle.IsNil()\nhave false\nwant true")
	}
	if _, ok := a.Get(h); ok {
		t.Errorf("Get(nil): have true\nwant false")
	}
}

func TestArenaClear(t *testing.T) {
	a := NewArena[testTag, int]()
	hs := []Handle[testTag]{a.Insert(1), a.Insert(2), a.Insert(3)}
	a.Clear()
	if n := a.Len(); n != 0 {
		t.Errorf("Len() after Clear\nhave %d\nwant 0", n)
	}
	for _, h := range hs {
		if a.Contains(h) {
			t.Errorf("Contains(%v) after Clear\nhave true\nwant false", h)
		}
	}
	count := 0
	a.Insert(4)
	a.Each(func(Handle[testTag], int) { count++ })
	if count != 1 {
		t.Errorf("Each visited %d values\nwant 1", count)
	}
}

func TestClamp(t *testing.T) {
	for _, c := range []struct{ v, lo, hi, want uint32 }{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{20, 1, 10, 10},
	} {
		if have := Clamp(c.v, c.lo, c.hi); have != c.want {
			t.Errorf("Clamp(%d, %d, %d)\nhave %d\nwant %d", c.v, c.lo, c.hi, have, c.want)
		}
	}
}

func TestFrameMetrics(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	if ft := m.FrameTime(); ft < 9.99 || ft > 10.01 {
		t.Errorf("FrameTime()\nhave %f\nwant 10", ft)
	}
	m.Drop()
	m.Drop()
	if d := m.Dropped(); d != 2 {
		t.Errorf("Dropped()\nhave %d\nwant 2", d)
	}
}

func TestParseLogLevel(t *testing.T) {
	for s, want := range map[string]LogLevel{
		"debug": DebugLevel, "WARN": WarnLevel, "error": ErrorLevel, "bogus": InfoLevel,
	} {
		if have := ParseLogLevel(s); have != want {
			t.Errorf("ParseLogLevel(%q)\nhave %v\nwant %v", s, have, want)
		}
	}
}
