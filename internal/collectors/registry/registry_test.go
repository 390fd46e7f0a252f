package registry

import (
	"testing"
	"time"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
)

type fakeEmitter struct{ events []events.MonitorEvent }

func (f *fakeEmitter) Submit(ev events.MonitorEvent) {
	f.events = append(f.events, ev)
}

func TestFirstTickEstablishesBaselineNoEvents(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	probe.SetRegistry("HKCU", `Software\...\Run`, map[string]string{"Updater": "C:\\a.exe"})
	em := &fakeEmitter{}
	c := New(probe, []WatchedKey{{Hive: "HKCU", Subkey: `Software\...\Run`}}, em, nil, nil, time.Second)

	c.tick()
	if len(em.events) != 0 {
		t.Fatalf("expected no events on the first (baseline) tick, got %+v", em.events)
	}
}

func TestAddedModifiedDeletedDiff(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	key := WatchedKey{Hive: "HKCU", Subkey: `Software\...\Run`}
	probe.SetRegistry(key.Hive, key.Subkey, map[string]string{
		"Updater": "C:\\a.exe", "Stale": "C:\\old.exe",
	})
	em := &fakeEmitter{}
	c := New(probe, []WatchedKey{key}, em, nil, nil, time.Second)
	c.tick()

	probe.SetRegistry(key.Hive, key.Subkey, map[string]string{
		"Updater": "C:\\b.exe", // modified
		"New":     "C:\\new.exe", // added
		// Stale removed
	})
	c.tick()

	kinds := map[string]int{}
	for _, ev := range em.events {
		kinds[ev.Kind]++
	}
	if kinds[events.KindRegistryAdded] != 1 {
		t.Errorf("expected 1 added event, got %d", kinds[events.KindRegistryAdded])
	}
	if kinds[events.KindRegistryMod] != 1 {
		t.Errorf("expected 1 modified event, got %d", kinds[events.KindRegistryMod])
	}
	if kinds[events.KindRegistryDeleted] != 1 {
		t.Errorf("expected 1 deleted event, got %d", kinds[events.KindRegistryDeleted])
	}

	for _, ev := range em.events {
		p := ev.Payload.(events.PayloadRegistry)
		if p.ValueName == "New" || p.ValueName == "Updater" || p.ValueName == "Stale" {
			if ev.PreliminaryRisk != runRisk {
				t.Errorf("expected risk %v for a Run key, got %v", runRisk, ev.PreliminaryRisk)
			}
		}
	}
}

func TestMissingKeyProducesNoEvent(t *testing.T) {
	probe := hostprobe.NewFakeProbe() // no registry seeded -> empty map, no error
	em := &fakeEmitter{}
	c := New(probe, []WatchedKey{{Hive: "HKCU", Subkey: `Software\Missing`}}, em, nil, nil, time.Second)

	c.tick()
	c.tick()
	if len(em.events) != 0 {
		t.Fatalf("expected no events for a missing key, got %+v", em.events)
	}
}

func TestNonRunKeyGetsLowRisk(t *testing.T) {
	probe := hostprobe.NewFakeProbe()
	key := WatchedKey{Hive: "HKLM", Subkey: `Software\Classes\Something`}
	probe.SetRegistry(key.Hive, key.Subkey, map[string]string{"A": "1"})
	em := &fakeEmitter{}
	c := New(probe, []WatchedKey{key}, em, nil, nil, time.Second)
	c.tick()

	probe.SetRegistry(key.Hive, key.Subkey, map[string]string{"A": "2"})
	c.tick()

	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	if em.events[0].PreliminaryRisk != lowRisk {
		t.Errorf("expected low risk %v for a non-Run key, got %v", lowRisk, em.events[0].PreliminaryRisk)
	}
}
