package util

import (
    "strconv"
    "testing"
    "time"
)

func TestParseTimeRFC3339(t *testing.T) {
    s := "2024-10-10T10:10:10Z"
    got, ok := ParseTime(s)
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.UTC().Format(time.RFC3339) != s {
        t.Fatalf("unexpected time %v", got)
    }
}

func TestParseTimeUnix(t *testing.T) {
    ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
    got, ok := ParseTime(strconv.FormatInt(ts, 10))
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.Unix() != ts {
        t.Fatalf("unexpected unix %v", got.Unix())
    }
}

func TestParseTimeDefault(t *testing.T) {
    def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
    got := ParseTimeDefault("", def)
    if !got.Equal(def) {
        t.Fatalf("expected default")
    }
}
func TestAlignFromToHour(t *testing.T) {
    from := time.Date(2024, 10, 10, 10, 42, 10, 0, time.UTC)
    to := time.Date(2024, 10, 10, 12, 5, 0, 0, time.UTC)
    f, e := AlignFromTo(from, to, "1h")
    if f.Minute() != 0 || e.Hour() != 12 || e.Minute() != 0 {
        t.Fatalf("unexpected range %v %v", f, e)
    }
}

func TestManualClockAdvance(t *testing.T) {
    start := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
    c := NewManualClock(start)
    if !c.Now().Equal(start) {
        t.Fatalf("expected start time")
    }
    got := c.Advance(90 * time.Second)
    if !got.Equal(start.Add(90*time.Second)) || !c.Now().Equal(got) {
        t.Fatalf("unexpected time %v", got)
    }
}

func TestParseFloatRejectsNaN(t *testing.T) {
    if _, ok := ParseFloat("NaN"); ok {
        t.Fatalf("NaN must be rejected")
    }
    if _, ok := ParseFloat("+Inf"); ok {
        t.Fatalf("Inf must be rejected")
    }
    if v, ok := ParseFloat(" 1.5 "); !ok || v != 1.5 {
        t.Fatalf("unexpected %v %v", v, ok)
    }
}
