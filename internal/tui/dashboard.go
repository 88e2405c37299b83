// internal/tui/dashboard.go
//
// This is the observer dashboard for Crucible. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The dashboard never mutates project state. It renders whatever snapshot the
// observer loop last published and refreshes when a new one arrives.

package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/crucible/internal/model"
	"github.com/kingrea/crucible/internal/observer"
)

const snapshotPollInterval = 500 * time.Millisecond

var (
	titleStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	sectionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	workerIdleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	workerBusyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	taskBlockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	taskDoneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	taskFailedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	taskDefaultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	activityTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	statusBarStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

type snapshotMsg struct {
	snapshot observer.Snapshot
}

type pollMsg struct{}

// SnapshotSource provides the dashboard's data. The observer loop satisfies
// it.
type SnapshotSource interface {
	Updates() <-chan observer.Snapshot
	Current() observer.Snapshot
}

// Dashboard is the bubbletea model rendering one project's live state.
type Dashboard struct {
	projectID int64
	source    SnapshotSource

	snapshot observer.Snapshot
	synced   bool

	spinner  spinner.Model
	progress progress.Model
	feed     viewport.Model

	width  int
	height int
	ready  bool
}

// NewDashboard builds the dashboard model for projectID.
func NewDashboard(projectID int64, source SnapshotSource) *Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Dashboard{
		projectID: projectID,
		source:    source,
		snapshot:  observer.NewSnapshot(),
		spinner:   sp,
		progress:  progress.New(progress.WithDefaultGradient()),
	}
}

// Init starts the spinner and the snapshot wait.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.waitForSnapshot())
}

// waitForSnapshot blocks on the observer's update channel, falling back to a
// short poll so a missed send never wedges the screen.
func (d *Dashboard) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case snap, ok := <-d.source.Updates():
			if !ok {
				return pollMsg{}
			}
			return snapshotMsg{snapshot: snap}
		case <-time.After(snapshotPollInterval):
			return pollMsg{}
		}
	}
}

// Update handles messages.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		case "up", "k":
			d.feed.LineUp(1)
		case "down", "j":
			d.feed.LineDown(1)
		}
		return d, nil

	case tea.WindowSizeMsg:
		d.width = m.Width
		d.height = m.Height
		d.progress.Width = clamp(m.Width-20, 10, 60)
		feedHeight := clamp(m.Height-18, 3, 12)
		if !d.ready {
			d.feed = viewport.New(m.Width-4, feedHeight)
			d.ready = true
		} else {
			d.feed.Width = m.Width - 4
			d.feed.Height = feedHeight
		}
		d.feed.SetContent(d.renderFeed())
		return d, nil

	case snapshotMsg:
		d.snapshot = m.snapshot
		d.synced = m.snapshot.LastSyncedAt > 0
		if d.ready {
			atBottom := d.feed.AtBottom()
			d.feed.SetContent(d.renderFeed())
			if atBottom {
				d.feed.GotoBottom()
			}
		}
		return d, d.waitForSnapshot()

	case pollMsg:
		d.snapshot = d.source.Current()
		d.synced = d.snapshot.LastSyncedAt > 0
		if d.ready {
			d.feed.SetContent(d.renderFeed())
		}
		return d, d.waitForSnapshot()

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(m)
		return d, cmd

	case progress.FrameMsg:
		updated, cmd := d.progress.Update(m)
		if p, ok := updated.(progress.Model); ok {
			d.progress = p
		}
		return d, cmd
	}
	return d, nil
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("⬡ CRUCIBLE · project %d", d.projectID)))
	b.WriteString("\n\n")

	if !d.synced {
		b.WriteString(d.spinner.View())
		b.WriteString(" synchronizing with coordinator...\n")
		return b.String()
	}

	b.WriteString(d.renderProgress())
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Workers"))
	b.WriteString("\n")
	b.WriteString(d.renderWorkers())
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Tasks"))
	b.WriteString("\n")
	b.WriteString(d.renderTasks())
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Activity"))
	b.WriteString("\n")
	if d.ready {
		b.WriteString(d.feed.View())
	} else {
		b.WriteString(d.renderFeed())
	}
	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(fmt.Sprintf("last sync %s · q to quit", formatStamp(d.snapshot.LastSyncedAt))))
	b.WriteString("\n")
	return b.String()
}

func (d *Dashboard) renderProgress() string {
	p, ok := d.snapshot.Progress[d.projectID]
	if !ok || p.Total == 0 {
		return statusBarStyle.Render("no tasks yet") + "\n"
	}
	bar := d.progress.ViewAs(p.Percent / 100)
	return fmt.Sprintf("%s %d/%d tasks (%.1f%%)\n", bar, p.Completed, p.Total, p.Percent)
}

func (d *Dashboard) renderWorkers() string {
	ids := make([]string, 0, len(d.snapshot.Workers))
	for id := range d.snapshot.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return statusBarStyle.Render("  (none)") + "\n"
	}
	var b strings.Builder
	for _, id := range ids {
		w := d.snapshot.Workers[id]
		style := workerIdleStyle
		if w.Status == model.WorkerWorking {
			style = workerBusyStyle
		}
		line := fmt.Sprintf("  %-24s %-8s done:%d", w.ID, w.Status, w.TasksCompleted)
		if w.CurrentTask != nil {
			line += fmt.Sprintf("  → #%d %s", w.CurrentTask.ID, truncate(w.CurrentTask.Title, 40))
		}
		if w.Blocker != "" {
			line += fmt.Sprintf("  [blocked: %s]", truncate(w.Blocker, 30))
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (d *Dashboard) renderTasks() string {
	ids := make([]int64, 0, len(d.snapshot.Tasks))
	for id := range d.snapshot.Tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return statusBarStyle.Render("  (none)") + "\n"
	}
	var b strings.Builder
	for _, id := range ids {
		t := d.snapshot.Tasks[id]
		style := taskDefaultStyle
		switch t.Status {
		case model.TaskBlocked:
			style = taskBlockedStyle
		case model.TaskCompleted:
			style = taskDoneStyle
		case model.TaskFailed:
			style = taskFailedStyle
		}
		line := fmt.Sprintf("  #%-5d %-12s %s", t.ID, t.Status, truncate(t.Title, 48))
		if t.AssignedTo != "" {
			line += fmt.Sprintf("  (%s)", t.AssignedTo)
		}
		if len(t.BlockedBy) > 0 {
			line += fmt.Sprintf("  waiting on %v", t.BlockedBy)
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (d *Dashboard) renderFeed() string {
	if len(d.snapshot.Activity) == 0 {
		return statusBarStyle.Render("  (quiet)")
	}
	var b strings.Builder
	for _, item := range d.snapshot.Activity {
		line := fmt.Sprintf("  %s  %-10s %-20s %s",
			formatStamp(item.Timestamp), item.Category, item.Worker, item.Message)
		b.WriteString(activityTextStyle.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStamp(ms float64) string {
	if ms <= 0 || ms != ms {
		return "--:--:--"
	}
	return time.UnixMilli(int64(ms)).Local().Format("15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
