package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

func device(id string, sessions ...types.Session) *types.Device {
	return &types.Device{
		ID:             id,
		Name:           id,
		Status:         types.StatusOnline,
		LogFiles:       []types.LogFileDescriptor{{Name: "app.log"}},
		ActiveSessions: sessions,
	}
}

func TestReplaceAllIsNotAMerge(t *testing.T) {
	r := New()

	gen1 := r.ReplaceAll([]*types.Device{device("a"), device("b")})
	if r.Len() != 2 {
		t.Fatalf("Expected 2 devices, got %d", r.Len())
	}

	gen2 := r.ReplaceAll([]*types.Device{device("c")})
	if gen2 <= gen1 {
		t.Errorf("Expected generation to advance, got %d after %d", gen2, gen1)
	}

	if _, ok := r.Get("a"); ok {
		t.Error("Expected device a to be dropped by replacement")
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != "c" {
		t.Errorf("Expected only c, got %v", ids)
	}
}

func TestListSortedCopies(t *testing.T) {
	r := New()
	r.ReplaceAll([]*types.Device{device("zeta"), device("alpha"), device("mid")})

	list := r.List()
	if len(list) != 3 || list[0].ID != "alpha" || list[2].ID != "zeta" {
		t.Fatalf("Unexpected order: %+v", list)
	}

	list[0].LogFiles[0].Name = "mutated"
	got, _ := r.Get("alpha")
	if got.LogFiles[0].Name != "app.log" {
		t.Error("Mutating a listed device leaked into the registry")
	}
}

func TestUpdateIf(t *testing.T) {
	r := New()
	r.ReplaceAll([]*types.Device{device("a")})

	snap, gen, ok := r.Snapshot("a")
	if !ok {
		t.Fatal("Expected device a")
	}

	snap.Stats.TotalLines = 42
	if res := r.UpdateIf(gen, &snap); res != Applied {
		t.Fatalf("Expected Applied, got %v", res)
	}
	got, _ := r.Get("a")
	if got.Stats.TotalLines != 42 {
		t.Errorf("Expected updated stats, got %+v", got.Stats)
	}

	if res := r.UpdateIf(gen, device("ghost")); res != Unknown {
		t.Errorf("Expected Unknown for missing device, got %v", res)
	}
	if r.Len() != 1 {
		t.Error("Unknown update must not insert a device")
	}
}

func TestUpdateIfSuperseded(t *testing.T) {
	r := New()
	r.ReplaceAll([]*types.Device{device("a"), device("b")})

	snap, gen, _ := r.Snapshot("a")

	// a full scan lands between the read and the write
	r.ReplaceAll([]*types.Device{device("b")})

	snap.Stats.TotalLines = 7
	if res := r.UpdateIf(gen, &snap); res != Superseded {
		t.Fatalf("Expected Superseded, got %v", res)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("Stale update resurrected a dropped device")
	}
}

func TestSessions(t *testing.T) {
	now := time.Now()
	r := New()
	r.ReplaceAll([]*types.Device{
		device("a",
			types.Session{ID: "1", DeviceID: "a", StartTime: now.Add(-30 * time.Minute)},
			types.Session{ID: "2", DeviceID: "a", StartTime: now.Add(-5 * time.Minute)},
		),
		device("b",
			types.Session{ID: "9", DeviceID: "b", StartTime: now.Add(-10 * time.Minute)},
		),
	})

	all := r.Sessions("")
	if len(all) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(all))
	}
	if all[0].ID != "2" || all[1].ID != "9" || all[2].ID != "1" {
		t.Errorf("Expected newest first, got %+v", all)
	}

	if onlyB := r.Sessions("b"); len(onlyB) != 1 || onlyB[0].DeviceID != "b" {
		t.Errorf("Expected b's session only, got %+v", onlyB)
	}

	unknown := r.Sessions("nope")
	if unknown == nil || len(unknown) != 0 {
		t.Errorf("Expected empty non-nil list, got %+v", unknown)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	r.ReplaceAll([]*types.Device{device("a"), device("b")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.ReplaceAll([]*types.Device{device("a"), device("b")})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if n := len(r.List()); n != 2 {
					t.Errorf("Reader observed partial map of %d devices", n)
					return
				}
				if snap, gen, ok := r.Snapshot("a"); ok {
					r.UpdateIf(gen, &snap)
				}
			}
		}()
	}
	wg.Wait()
}
