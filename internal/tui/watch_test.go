package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/bugzilla"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

type fakeBugzilla struct {
	mu      sync.Mutex
	roots   map[string][]bug.ID
	bugs    map[bug.ID]bug.Node
	queries []bugzilla.Query
}

func (f *fakeBugzilla) Query(ctx context.Context, q bugzilla.Query) (*bugzilla.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	ids := q.IDs
	if q.BlockedBy != "" {
		ids = append(ids, f.roots[q.BlockedBy]...)
	}
	resp := &bugzilla.Response{}
	for _, id := range ids {
		if n, ok := f.bugs[id]; ok {
			resp.Bugs = append(resp.Bugs, n.Clone())
		}
	}
	return resp, nil
}

func (f *fakeBugzilla) lastQuery() bugzilla.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func record(id, status, whiteboard string, keywords ...string) bug.Node {
	kw := make([]any, len(keywords))
	for i, k := range keywords {
		kw[i] = k
	}
	return bug.Node{ID: bug.ID(id), Fields: map[string]any{
		"summary":    "bug " + id,
		"product":    "Firefox",
		"status":     status,
		"whiteboard": whiteboard,
		"keywords":   kw,
	}}
}

func newFake() *fakeBugzilla {
	return &fakeBugzilla{
		roots: map[string][]bug.ID{"100": {"1", "2", "3"}},
		bugs: map[bug.ID]bug.Node{
			"1": record("1", "NEW", "[Australis:P1]"),
			"2": record("2", "RESOLVED", ""),
			"3": record("3", "NEW", "", "meta"),
		},
	}
}

func startController(t *testing.T, q fetch.Querier) *fetch.Controller {
	t.Helper()
	ctrl := fetch.NewController(q, fetch.Options{
		MaxDepth:       2,
		Fields:         table.Fields(),
		FlagFields:     table.FlagFields(),
		NotifyInterval: -1,
		DefaultRoot:    "100",
		ResolveRoot:    func(root string) string { return root },
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return ctrl
}

// runCycle starts a cycle through the model's command and waits for it to
// finish.
func runCycle(t *testing.T, ctrl *fetch.Controller, cmd tea.Cmd) tea.Msg {
	t.Helper()
	msg := cmd()
	restarted, ok := msg.(restartedMsg)
	if !ok {
		t.Fatalf("expected restartedMsg, got %T", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cy := ctrl.Current(); cy != nil && cy.ID() == restarted.id {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := cy.Wait(ctx); err != nil {
				t.Fatal(err)
			}
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cycle %s never became current", restarted.id)
	return nil
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m WatchModel, msg tea.Msg) (WatchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(WatchModel), cmd
}

func rowIDs(rows []table.Row) string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = string(r.ID)
	}
	return strings.Join(ids, ",")
}

func newWatch(t *testing.T) (WatchModel, *fetch.Controller, *fakeBugzilla) {
	t.Helper()
	fake := newFake()
	ctrl := startController(t, fake)
	m := NewWatchModel(ctrl, WatchOptions{Request: ctrl.Request(""), Filter: table.DefaultFilter()})

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 40})
	m, _ = update(t, m, runCycle(t, ctrl, m.start(m.request)))
	return m, ctrl, fake
}

func TestWatchModel_ShowsCycleRows(t *testing.T) {
	m, _, _ := newWatch(t)

	if got := rowIDs(m.Rows()); got != "1,2,3" {
		t.Fatalf("expected rows 1,2,3, got %s", got)
	}
	s, ok := m.Summary()
	if !ok || s.State != fetch.StateDone {
		t.Fatalf("expected a done cycle, got %+v", s)
	}

	view := m.View()
	for _, want := range []string{"Bug dependencies", "3 of 3 bugs shown", "bug 1", "Cycle done"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestWatchModel_FilterKeys(t *testing.T) {
	m, _, _ := newWatch(t)

	tests := []struct {
		key  string
		want string
	}{
		{"u", "1,3"}, // hide resolved
		{"m", "1"},   // hide meta
		{"u", "2"},   // resolved only
		{"u", "1,2"}, // any, meta still hidden
		{"m", "1,2,3"},
	}
	for _, tt := range tests {
		var cmd tea.Cmd
		m, cmd = update(t, m, keyMsg(tt.key))
		if cmd != nil {
			t.Fatalf("key %q: expected no command", tt.key)
		}
		if got := rowIDs(m.Rows()); got != tt.want {
			t.Fatalf("after %q expected %q, got %q", tt.key, tt.want, got)
		}
	}
}

func TestWatchModel_Sort(t *testing.T) {
	m, _, _ := newWatch(t)

	m, _ = update(t, m, keyMsg("s"))
	if m.filter.Sort != table.ColID || m.filter.SortDir != table.SortAsc {
		t.Fatalf("expected ascending id sort, got %q %q", m.filter.Sort, m.filter.SortDir)
	}
	for range len(sortKeys) - 1 {
		m, _ = update(t, m, keyMsg("s"))
	}
	if m.filter.Sort != "" {
		t.Fatalf("expected sort to wrap to none, got %q", m.filter.Sort)
	}
}

func TestWatchModel_FlagsRestartCycle(t *testing.T) {
	m, ctrl, fake := newWatch(t)
	first := ctrl.Current().ID()

	m, cmd := update(t, m, keyMsg("f"))
	if cmd == nil {
		t.Fatal("expected flags toggle to refetch")
	}
	if !strings.Contains(m.View(), "Refetching with flag fields") {
		t.Fatal("expected refetch status")
	}
	m, _ = update(t, m, runCycle(t, ctrl, cmd))

	cy := ctrl.Current()
	if cy.ID() == first || !cy.Request().Flags {
		t.Fatalf("expected a new flags cycle, got %s flags=%v", cy.ID(), cy.Request().Flags)
	}
	if !strings.Contains(strings.Join(fake.lastQuery().Fields, ","), "flags") {
		t.Fatalf("expected flag fields requested, got %v", fake.lastQuery().Fields)
	}

	// Toggling off keeps the flag cycle.
	m, cmd = update(t, m, keyMsg("f"))
	if cmd != nil || m.filter.Flags {
		t.Fatal("expected flags off without refetch")
	}
}

func TestWatchModel_Refetch(t *testing.T) {
	m, ctrl, _ := newWatch(t)
	first := ctrl.Current().ID()

	_, cmd := update(t, m, keyMsg("r"))
	if cmd == nil {
		t.Fatal("expected refetch command")
	}
	runCycle(t, ctrl, cmd)
	if ctrl.Current().ID() == first {
		t.Fatal("expected a new cycle")
	}
}

func TestWatchModel_StatusAndQuit(t *testing.T) {
	m, _, _ := newWatch(t)

	m, _ = update(t, m, statusMsg{text: "Depth 1 request failed"})
	if !strings.Contains(m.View(), "Depth 1 request failed") {
		t.Fatal("expected status in view")
	}

	m, cmd := update(t, m, keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if m.View() != "" {
		t.Fatal("expected empty view after quit")
	}
}

func TestWatchModel_BeforeFirstCycle(t *testing.T) {
	m := NewWatchModel(startController(t, newFake()), WatchOptions{Filter: table.DefaultFilter()})
	if _, ok := m.Summary(); ok {
		t.Fatal("expected no summary")
	}
	if !strings.Contains(m.View(), "starting") {
		t.Fatalf("expected starting header, got:\n%s", m.View())
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recorder) Send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func TestBridge(t *testing.T) {
	b := NewBridge()
	b.GraphUpdated() // detached: dropped

	r := &recorder{}
	b.Attach(r)
	b.CycleStarted(fetch.Summary{ID: "c1"})
	b.GraphUpdated()
	b.SetStatus("working")
	b.CycleFinished(fetch.Summary{ID: "c1", State: fetch.StateDone})
	b.Detach()
	b.SetStatus("dropped")

	if len(r.msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(r.msgs))
	}
	if m, ok := r.msgs[0].(cycleStartedMsg); !ok || m.summary.ID != "c1" {
		t.Fatalf("unexpected first message %#v", r.msgs[0])
	}
	if m, ok := r.msgs[2].(statusMsg); !ok || m.text != "working" {
		t.Fatalf("unexpected status message %#v", r.msgs[2])
	}
	if _, ok := r.msgs[3].(cycleFinishedMsg); !ok {
		t.Fatalf("unexpected last message %#v", r.msgs[3])
	}
}

func TestSummaryLineAndView(t *testing.T) {
	start := time.Now()
	end := start.Add(2 * time.Second)
	s := fetch.Summary{
		ID:         "c1",
		Root:       "100",
		State:      fetch.StateDone,
		MaxDepth:   2,
		Nodes:      5,
		Depths:     []fetch.DepthStats{{Depth: 1, Issued: 1, Succeeded: 1}, {Depth: 2, Issued: 2, Succeeded: 1, Failed: 1}},
		AtMaxDepth: []bug.ID{"9"},
		Truncated:  1,
		Failures:   []fetch.Failure{{Depth: 2, IDs: []bug.ID{"4", "5"}, Message: "timeout"}},
		StartedAt:  start,
		FinishedAt: &end,
	}

	line := SummaryLine(s)
	want := "Cycle done in 2s: 5 bugs, 1/3 queries failed, 1 truncated edge(s); max depth reached at 9"
	if line != want {
		t.Fatalf("expected %q, got %q", want, line)
	}

	view := SummaryView(s, nil)
	for _, w := range []string{"Fetch Summary", "Truncated:  1", "1 failed request(s)", "depth 2 4,5: timeout"} {
		if !strings.Contains(view, w) {
			t.Errorf("expected %q in summary view:\n%s", w, view)
		}
	}
}
