// Package dashboard renders a full-screen live view of the jobs a
// TrainTrack server is tracking: one table row per job, refreshed by
// polling the REST API.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/report"
)

// Data is one polled view of the server.
type Data struct {
	Version    string
	APIURL     string
	StreamAddr string
	Observers  int
	Uptime     string
	Connected  bool
	Jobs       []job.Snapshot
	Reports    []report.Report
	LastUpdate time.Time
}

// Dashboard is an interactive tview dashboard over the REST API.
type Dashboard struct {
	app       *tview.Application
	data      Data
	refreshFn func() (Data, error)

	mainFlex    *tview.Flex
	serverInfo  *tview.TextView
	jobsTable   *tview.Table
	reports     *tview.Table
	statusBar   *tview.TextView
	autoRefresh bool
	stopChan    chan struct{}
}

// New creates a dashboard seeded with data; refreshFn repolls the server.
func New(data Data, refreshFn func() (Data, error)) *Dashboard {
	return &Dashboard{
		data:        data,
		refreshFn:   refreshFn,
		autoRefresh: true,
		stopChan:    make(chan struct{}),
	}
}

// Run starts the dashboard and blocks until the user quits.
func (d *Dashboard) Run() error {
	d.app = tview.NewApplication()
	d.buildUI()
	d.updateUI()

	go d.autoRefreshLoop()

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			d.stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				d.stop()
				return nil
			case 'r', 'R':
				go d.refresh()
				return nil
			case 'a', 'A':
				d.autoRefresh = !d.autoRefresh
				d.updateStatusBar()
				return nil
			}
		}
		return event
	})

	return d.app.Run()
}

func (d *Dashboard) stop() {
	close(d.stopChan)
	d.app.Stop()
}

func (d *Dashboard) buildUI() {
	d.serverInfo = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.serverInfo.SetBorder(true).SetTitle(" Server ")

	d.jobsTable = tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	d.jobsTable.SetBorder(true).SetTitle(" Jobs ")

	d.reports = tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	d.reports.SetBorder(true).SetTitle(" Recent Reports ")

	d.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	d.mainFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.createHeader(), 3, 0, false).
		AddItem(d.serverInfo, 7, 0, false).
		AddItem(d.jobsTable, 0, 2, false).
		AddItem(d.reports, 0, 1, false).
		AddItem(d.statusBar, 1, 0, false)

	d.app.SetRoot(d.mainFlex, true)
}

func (d *Dashboard) createHeader() *tview.TextView {
	header := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	header.SetText(fmt.Sprintf("\n[::b]⚡ TRAINTRACK[::-] [gray](%s)[-]", d.data.Version))
	return header
}

func (d *Dashboard) updateUI() {
	d.updateServerInfo()
	d.updateJobs()
	d.updateReports()
	d.updateStatusBar()
}

func (d *Dashboard) updateServerInfo() {
	var sb strings.Builder

	statusColor := "red"
	statusText := "UNREACHABLE"
	if d.data.Connected {
		statusColor = "green"
		statusText = "ONLINE"
	}

	sb.WriteString(fmt.Sprintf(" [yellow]API:[-]       %s\n", d.data.APIURL))
	sb.WriteString(fmt.Sprintf(" [yellow]Stream:[-]    ws://%s\n", d.data.StreamAddr))
	sb.WriteString(fmt.Sprintf(" [yellow]Observers:[-] %d\n", d.data.Observers))
	if d.data.Uptime != "" {
		sb.WriteString(fmt.Sprintf(" [yellow]Uptime:[-]    %s\n", d.data.Uptime))
	}
	sb.WriteString(fmt.Sprintf(" [yellow]Status:[-]    [%s]● %s[-]", statusColor, statusText))

	d.serverInfo.SetText(sb.String())
}

func (d *Dashboard) updateJobs() {
	d.jobsTable.Clear()

	if len(d.data.Jobs) == 0 {
		d.jobsTable.SetCell(0, 0, tview.NewTableCell(" [gray]No jobs tracked[-]").SetSelectable(false))
		return
	}

	headers := []string{"ID", "NAME", "KIND", "STATUS", "PROGRESS", "POSITION", "UPDATED"}
	for i, h := range headers {
		cell := tview.NewTableCell(" [yellow::b]" + h + "[-:-:-]").
			SetSelectable(false).
			SetAlign(tview.AlignLeft)
		d.jobsTable.SetCell(0, i, cell)
	}

	for i, snap := range d.data.Jobs {
		row := i + 1

		d.jobsTable.SetCell(row, 0, tview.NewTableCell(" [gray]"+shortID(snap.ID)+"[-]").SetSelectable(false))
		d.jobsTable.SetCell(row, 1, tview.NewTableCell(snap.Name).SetSelectable(false))
		d.jobsTable.SetCell(row, 2, tview.NewTableCell("[gray]"+string(snap.Kind)+"[-]").SetSelectable(false))
		d.jobsTable.SetCell(row, 3, tview.NewTableCell(statusCell(snap.Status)).SetSelectable(false))
		d.jobsTable.SetCell(row, 4, tview.NewTableCell(progressCell(snap.Progress.Percent)).SetSelectable(false))
		d.jobsTable.SetCell(row, 5, tview.NewTableCell("[gray]"+positionCell(snap)+"[-]").SetSelectable(false))
		d.jobsTable.SetCell(row, 6, tview.NewTableCell("[gray]"+snap.UpdatedAt.Local().Format("15:04:05")+"[-]").SetSelectable(false))
	}
}

func (d *Dashboard) updateReports() {
	d.reports.Clear()

	if len(d.data.Reports) == 0 {
		d.reports.SetCell(0, 0, tview.NewTableCell(" [gray]No finished jobs archived[-]").SetSelectable(false))
		return
	}

	headers := []string{"ID", "NAME", "STATUS", "FINISHED", "ERROR"}
	for i, h := range headers {
		cell := tview.NewTableCell(" [yellow::b]" + h + "[-:-:-]").
			SetSelectable(false).
			SetAlign(tview.AlignLeft)
		d.reports.SetCell(0, i, cell)
	}

	for i, rep := range d.data.Reports {
		row := i + 1

		errDetail := rep.Error
		if errDetail == "" {
			errDetail = "-"
		}
		d.reports.SetCell(row, 0, tview.NewTableCell(" [gray]"+shortID(rep.JobID)+"[-]").SetSelectable(false))
		d.reports.SetCell(row, 1, tview.NewTableCell(rep.Name).SetSelectable(false))
		d.reports.SetCell(row, 2, tview.NewTableCell(statusCell(rep.Status)).SetSelectable(false))
		d.reports.SetCell(row, 3, tview.NewTableCell("[gray]"+rep.FinishedAt.Local().Format("15:04:05")+"[-]").SetSelectable(false))
		d.reports.SetCell(row, 4, tview.NewTableCell("[gray]"+errDetail+"[-]").SetSelectable(false))
	}
}

func (d *Dashboard) updateStatusBar() {
	autoStr := "[red]off[-]"
	if d.autoRefresh {
		autoStr = "[green]on[-]"
	}

	lastUpdate := "never"
	if !d.data.LastUpdate.IsZero() {
		lastUpdate = d.data.LastUpdate.Format("15:04:05")
	}

	d.statusBar.SetText(fmt.Sprintf(
		" [yellow][r][-]efresh  [yellow][a][-]uto-refresh: %s  [yellow][q][-]uit  |  Last update: [gray]%s[-]",
		autoStr, lastUpdate,
	))
}

func (d *Dashboard) refresh() {
	if d.refreshFn == nil {
		return
	}

	data, err := d.refreshFn()
	if err != nil {
		d.data.Connected = false
	} else {
		d.data = data
	}
	d.data.LastUpdate = time.Now()

	d.app.QueueUpdateDraw(func() {
		d.updateUI()
	})
}

func (d *Dashboard) autoRefreshLoop() {
	// Jobs move fast, so poll every 2 seconds
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			if d.autoRefresh {
				d.refresh()
			}
		}
	}
}

func statusCell(status job.Status) string {
	switch status {
	case job.StatusRunning:
		return "[cyan]● running[-]"
	case job.StatusCompleted:
		return "[green]✓ completed[-]"
	case job.StatusFailed:
		return "[red]✗ failed[-]"
	case job.StatusPending:
		return "[yellow]○ pending[-]"
	default:
		return "[gray]? " + string(status) + "[-]"
	}
}

func progressCell(percent float64) string {
	barWidth := 16
	filled := min(int(percent/100.0*float64(barWidth)), barWidth)
	empty := barWidth - filled

	color := "cyan"
	if percent >= 100 {
		color = "green"
	}

	bar := fmt.Sprintf("[%s]%s[-][gray]%s[-]", color, strings.Repeat("█", filled), strings.Repeat("░", empty))
	return fmt.Sprintf("%s [%s]%3.0f%%[-]", bar, color, percent)
}

func positionCell(snap job.Snapshot) string {
	if snap.Kind == job.KindHyperparamSearch && snap.TotalTrials > 0 {
		return fmt.Sprintf("trial %d/%d", snap.CurrentTrial, snap.TotalTrials)
	}
	if snap.TotalEpochs > 0 {
		return fmt.Sprintf("epoch %d/%d", snap.CurrentEpoch, snap.TotalEpochs)
	}
	return "-"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run is a convenience wrapper over New and Dashboard.Run.
func Run(data Data, refreshFn func() (Data, error)) error {
	return New(data, refreshFn).Run()
}
