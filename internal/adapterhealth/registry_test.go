package adapterhealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func defaultThresholds() Thresholds {
	return Thresholds{
		InitializingGrace: 30 * time.Second,
		DelayedMult:       1.5,
		AbsentMult:        2.0,
		AbandonedMult:     3.0,
		TTLAbandoned:      time.Hour,
		TTLStopped:        time.Hour,
		MaxPerType:        10,
		MaxTotal:          100,
	}
}

func TestRegisterStartsInitializing(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)

	inst, err := reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: 30 * time.Second})
	require.NoError(t, err)
	require.Equal(t, Initializing, inst.State)
}

func TestRegisterAndReport(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)

	_, err := reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: 30 * time.Second})
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Second)
	got, err := reg.Report("cargo", "host-1", map[string]string{"cpu": "12%"}, Running)
	require.NoError(t, err)
	require.Equal(t, Running, got.State)
	require.Equal(t, "12%", got.LastMetrics["cpu"])
}

func TestReportCarriesWarningAndCriticalThrough(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)
	reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: 30 * time.Second})

	got, err := reg.Report("cargo", "host-1", nil, Warning)
	require.NoError(t, err)
	require.Equal(t, Warning, got.State)

	got, err = reg.Report("cargo", "host-1", nil, Critical)
	require.NoError(t, err)
	require.Equal(t, Critical, got.State)
}

func TestExemptInstanceNeverTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)
	inst, err := reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: time.Second, Exempt: true})
	require.NoError(t, err)
	require.Equal(t, Exempt, inst.State)

	clock.now = clock.now.Add(time.Hour)
	transitioned, evicted := reg.Scan()
	require.Equal(t, 0, transitioned)
	require.Equal(t, 0, evicted)
	got, _ := reg.Get("cargo", "host-1")
	require.Equal(t, Exempt, got.State)
}

func TestScanMarksStalledInitializingAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)
	reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: time.Second})

	clock.now = clock.now.Add(31 * time.Second)
	transitioned, _ := reg.Scan()
	require.Equal(t, 1, transitioned)
	inst, _ := reg.Get("cargo", "host-1")
	require.Equal(t, Absent, inst.State)
}

func TestScanTransitionsToDelayedThenAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)
	reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: 10 * time.Second})
	reg.Report("cargo", "host-1", nil, Running)

	clock.now = clock.now.Add(20 * time.Second) // 2x expected -> delayed threshold crossed
	transitioned, _ := reg.Scan()
	require.Equal(t, 1, transitioned)
	inst, _ := reg.Get("cargo", "host-1")
	require.Equal(t, Delayed, inst.State)

	clock.now = clock.now.Add(5 * time.Second) // 25s elapsed: past absent (2x), short of abandoned (3x)
	reg.Scan()
	inst, _ = reg.Get("cargo", "host-1")
	require.Equal(t, Absent, inst.State)
}

func TestScanDoesNotResetWarningWithoutNewThresholdBreach(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)
	reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: 30 * time.Second})
	reg.Report("cargo", "host-1", nil, Warning)

	clock.now = clock.now.Add(time.Second)
	reg.Scan()
	inst, _ := reg.Get("cargo", "host-1")
	require.Equal(t, Warning, inst.State)
}

func TestScanEvictsAbandonedPastTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	thresh := defaultThresholds()
	thresh.TTLAbandoned = time.Minute
	reg := NewRegistry(thresh, clock)
	reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: time.Second})
	reg.Report("cargo", "host-1", nil, Running)

	clock.now = clock.now.Add(2 * time.Minute)
	_, evicted := reg.Scan()
	require.Equal(t, 1, evicted)
	_, ok := reg.Get("cargo", "host-1")
	require.False(t, ok)
}

func TestDeregisterMarksStopped(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(defaultThresholds(), clock)
	reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: time.Second})

	require.NoError(t, reg.Deregister("cargo", "host-1"))
	inst, ok := reg.Get("cargo", "host-1")
	require.True(t, ok)
	require.Equal(t, Stopped, inst.State)
}

func TestMaxPerTypeRejectsOverCap(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	thresh := defaultThresholds()
	thresh.MaxPerType = 1
	reg := NewRegistry(thresh, clock)

	_, err := reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-1", ExpectedInterval: time.Second})
	require.NoError(t, err)
	_, err = reg.Register(RegisterRequest{AdapterType: "cargo", InstanceID: "host-2", ExpectedInterval: time.Second})
	require.Error(t, err)
}
