package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

var info = &model.ConnectionDescriptor{Host: "example.com", Port: 22, User: "alice", Password: "secret"}

func names(r *Registry) []string {
	var out []string
	for _, t := range r.List() {
		out = append(out, t.Name)
	}
	return out
}

func TestNew_StartsWithOneActiveTab(t *testing.T) {
	r := New("", nil)

	tabs := r.List()
	if len(tabs) != 1 {
		t.Fatalf("expected 1 tab, got %d", len(tabs))
	}
	if tabs[0].Name != DefaultTabName || !tabs[0].Active || r.Active() != tabs[0].Index {
		t.Errorf("unexpected initial tab %+v", tabs[0])
	}
}

func TestCreateTab_NamesAndSelects(t *testing.T) {
	r := New("New Connection", nil)

	idx := r.CreateTab("", nil)
	if r.Active() != idx {
		t.Error("new tab should be selected")
	}
	named := r.CreateTab("prod", info)

	got := names(r)
	want := []string{"New Connection", "New Connection 2", "prod"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	tab, _ := r.Get(named)
	if tab.SSHInfo == nil || *tab.SSHInfo != *info {
		t.Errorf("info not stored: %+v", tab.SSHInfo)
	}
	tab.SSHInfo.Host = "mutated"
	if again, _ := r.Get(named); again.SSHInfo.Host != "example.com" {
		t.Error("snapshot shares connection info with the registry")
	}
}

func TestCloseTab_FallsBackToLastRemaining(t *testing.T) {
	r := New("", nil)
	a := r.List()[0].Index
	b := r.CreateTab("B", nil)
	c := r.CreateTab("C", nil)

	next, err := r.CloseTab(c)
	if err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	if next != b || r.Active() != b {
		t.Errorf("expected B active, got %s", next)
	}

	r.SetActive(b)
	next, _ = r.CloseTab(a)
	if next != b {
		t.Errorf("closing an inactive tab must keep the active one, got %s", next)
	}
}

func TestCloseTab_LastTabIsReplaced(t *testing.T) {
	r := New("", nil)
	only := r.Active()

	next, err := r.CloseTab(only)
	if err != nil {
		t.Fatalf("CloseTab failed: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected a fresh tab, got %d tabs", r.Len())
	}
	if next == only || r.Active() != next {
		t.Errorf("expected a new active index, got %s", next)
	}
	if tab, _ := r.Get(next); tab.Name != DefaultTabName || tab.SSHInfo != nil {
		t.Errorf("fresh tab should be a default tab, got %+v", tab)
	}
}

func TestCloseTab_Unknown(t *testing.T) {
	r := New("", nil)
	if _, err := r.CloseTab("nope"); !errors.Is(err, model.ErrTabNotFound) {
		t.Errorf("expected ErrTabNotFound, got %v", err)
	}
	if r.Len() != 1 {
		t.Error("unknown close changed the tab list")
	}
}

func TestDuplicateTab_CopiesInfoOnly(t *testing.T) {
	r := New("", nil)
	src := r.CreateTab("prod", info)

	dup, err := r.DuplicateTab(src)
	if err != nil {
		t.Fatalf("DuplicateTab failed: %v", err)
	}
	if r.Active() != dup {
		t.Error("duplicate should be selected")
	}
	tab, _ := r.Get(dup)
	if tab.Name != DefaultTabName+" 3" {
		t.Errorf("unexpected duplicate name %q", tab.Name)
	}
	if tab.SSHInfo == nil || *tab.SSHInfo != *info {
		t.Errorf("duplicate info mismatch %+v", tab.SSHInfo)
	}

	r.BindConnection(dup, model.ConnectionDescriptor{Host: "other", Port: 22, User: "bob", Password: "x"})
	if orig, _ := r.ConnectionInfo(src); orig.Host != "example.com" {
		t.Error("duplicate shares info with the source tab")
	}

	if _, err := r.DuplicateTab("nope"); !errors.Is(err, model.ErrTabNotFound) {
		t.Errorf("expected ErrTabNotFound, got %v", err)
	}
}

func TestReloadTab(t *testing.T) {
	r := New("", nil)
	idx := r.Active()

	if ok, err := r.ReloadTab(context.Background(), idx); ok || err != nil {
		t.Errorf("reload without hook should be a no-op, got %v %v", ok, err)
	}

	calls := 0
	r.SetReloader(idx, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if ok, err := r.ReloadTab(context.Background(), idx); !ok || err != nil || calls != 1 {
		t.Errorf("reload hook not invoked: %v %v %d", ok, err, calls)
	}

	if _, err := r.ReloadTab(context.Background(), "nope"); !errors.Is(err, model.ErrTabNotFound) {
		t.Errorf("expected ErrTabNotFound, got %v", err)
	}

	r.CloseTab(idx)
	r.SetReloader(idx, nil)
	if ok, _ := r.ReloadTab(context.Background(), idx); ok {
		t.Error("reload on a closed tab should do nothing")
	}
}

func TestHandles(t *testing.T) {
	h := NewHandles()
	h.Register("link-1", nil)
	if _, ok := h.Get("link-1"); !ok || h.Len() != 1 {
		t.Error("register failed")
	}
	h.Unregister("link-1")
	h.Unregister("link-1")
	if h.Len() != 0 {
		t.Error("unregister failed")
	}
}

// **Feature: tabmux, Property 3: Tab list is never empty and indices are unique**
// For any sequence of create, duplicate and close operations the registry
// holds at least one tab, the active index names a live tab, and no index is
// ever handed out twice.
func TestProperty_RegistryNeverEmpty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("registry invariants hold", prop.ForAll(
		func(ops []int) bool {
			r := New("", nil)
			seen := map[string]bool{r.Active(): true}

			for i, op := range ops {
				tabs := r.List()
				target := tabs[i%len(tabs)].Index
				switch op {
				case 0:
					idx := r.CreateTab("", nil)
					if seen[idx] {
						return false
					}
					seen[idx] = true
				case 1:
					idx, err := r.DuplicateTab(target)
					if err != nil || seen[idx] {
						return false
					}
					seen[idx] = true
				default:
					next, err := r.CloseTab(target)
					if err != nil {
						return false
					}
					if _, err := r.Get(next); err != nil {
						return false
					}
					seen[next] = true
				}

				if r.Len() < 1 {
					return false
				}
				if _, err := r.Get(r.Active()); err != nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
