package touch

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSessionID(t *testing.T) {
	a := SessionID(time.UnixMilli(1700000000000))
	if a != "id@1700000000000" {
		t.Errorf("unexpected id: %s", a)
	}

	b := SessionID(time.UnixMilli(1700000000001))
	if a == b {
		t.Error("sessions created in different milliseconds must have distinct ids")
	}
}

func TestNewSession(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	s := NewSession(start, DeviceSize{Width: 390, Height: 844})

	if s.ID != "id@1700000000000" {
		t.Errorf("unexpected id: %s", s.ID)
	}
	if s.EndTime != nil {
		t.Error("new session should be open")
	}
	if s.Touches == nil || len(s.Touches) != 0 {
		t.Error("new session should have an empty, non-nil touch list")
	}
	if s.DeviceSize.Width != 390 || s.DeviceSize.Height != 844 {
		t.Errorf("unexpected device size: %+v", s.DeviceSize)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession(time.Now(), DeviceSize{})
	s.Append(Meta{Coordinates: Coordinates{X: 1}})
	s.Close(time.Now())

	c := s.Clone()
	s.Append(Meta{Coordinates: Coordinates{X: 2}})
	s.Touches[0].Coordinates.X = 99
	*s.EndTime = time.Time{}

	if len(c.Touches) != 1 {
		t.Fatalf("clone should not see later appends, got %d touches", len(c.Touches))
	}
	if c.Touches[0].Coordinates.X != 1 {
		t.Error("clone should not alias the touch slice")
	}
	if c.EndTime.IsZero() {
		t.Error("clone should not alias the end time")
	}
}

func TestSessionJSONShape(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession(start, DeviceSize{Width: 10, Height: 20})
	s.Append(Meta{Coordinates: Coordinates{X: 1, Y: 2}, StartTime: start}.finalize(start.Add(40 * time.Millisecond)))

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "startTime", "touches", "deviceSize"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if _, ok := raw["endTime"]; ok {
		t.Error("open session should omit endTime")
	}

	touch := raw["touches"].([]any)[0].(map[string]any)
	if touch["duration"].(float64) != 40 {
		t.Errorf("expected duration 40, got %v", touch["duration"])
	}
	if touch["startTime"] != "2024-01-02T03:04:05Z" {
		t.Errorf("expected ISO-8601 start time, got %v", touch["startTime"])
	}
}

func TestCoordinatesDistance(t *testing.T) {
	d := Coordinates{X: 0, Y: 0}.Distance(Coordinates{X: 3, Y: 4})
	if d != 5 {
		t.Errorf("expected 5, got %f", d)
	}
}
