package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bitcar/command"
	"bitcar/distance"
)

const (
	DRIVE_REFRESH = 200 * time.Millisecond
	DRIVE_STEP    = 10
	chartDataSet  = "distance"
	maxErrors     = 3
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpMessage = "arrows drive, space stops, f toggles line follow, s stands up, q quits"
)

type statusMsg time.Time

func refresh() tea.Cmd {
	return tea.Tick(DRIVE_REFRESH, func(t time.Time) tea.Msg {
		return statusMsg(t)
	})
}

// driveModel steers the vehicle from the keyboard and shows its status.
type driveModel struct {
	car         car
	left, right int
	status      command.Status
	chart       *streamlinechart.Model
	errs        []string
	quitting    bool
}

func newDriveModel(v car) driveModel {
	chart := streamlinechart.New(60, 10, streamlinechart.WithYRange(0, distance.Sentinel))
	chart.SetDataSetStyles(chartDataSet, runes.ThinLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("51")))
	return driveModel{car: v, chart: &chart}
}

func (m *driveModel) execute(cmd *command.Command) *command.Reply {
	reply := m.car.Execute(cmd)
	if !reply.OK {
		m.errs = append(m.errs, fmt.Sprintf("%s: %s", reply.Type, reply.Error))
		if len(m.errs) > maxErrors {
			m.errs = m.errs[len(m.errs)-maxErrors:]
		}
	}
	return reply
}

func (m *driveModel) drive(left, right int) {
	m.left = min(max(left, -100), 100)
	m.right = min(max(right, -100), 100)
	m.execute(&command.Command{Type: command.SetSpeeds, Left: m.left, Right: m.right})
}

func (m driveModel) Init() tea.Cmd {
	return refresh()
}

func (m driveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.chart.Resize(max(msg.Width-4, 20), 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.execute(&command.Command{Type: command.Stop})
			return m, tea.Quit
		case "up":
			m.drive(m.left+DRIVE_STEP, m.right+DRIVE_STEP)
		case "down":
			m.drive(m.left-DRIVE_STEP, m.right-DRIVE_STEP)
		case "left":
			m.drive(m.left-DRIVE_STEP, m.right+DRIVE_STEP)
		case "right":
			m.drive(m.left+DRIVE_STEP, m.right-DRIVE_STEP)
		case " ":
			m.left, m.right = 0, 0
			m.execute(&command.Command{Type: command.Stop})
		case "f":
			if m.status.Following {
				m.execute(&command.Command{Type: command.StopFollow})
			} else {
				m.execute(&command.Command{Type: command.StartFollow})
			}
		case "s":
			m.left, m.right = 0, 0
			m.execute(&command.Command{Type: command.StandUp})
		}
		return m, nil

	case statusMsg:
		if reply := m.execute(&command.Command{Type: command.GetStatus}); reply.OK && reply.Status != nil {
			m.status = *reply.Status
			if m.status.Distance != nil {
				m.chart.PushDataSet(chartDataSet, *m.status.Distance)
				m.chart.DrawAll()
			}
		}
		return m, refresh()
	}
	return m, nil
}

func onOff(on bool) string {
	if on {
		return onStyle.Render("on")
	}
	return offStyle.Render("off")
}

func (m driveModel) View() string {
	if m.quitting {
		return "Vehicle stopped.\n"
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("BitCar"))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "%s %4d  %s %4d  %s %s\n",
		labelStyle.Render("left"), m.status.Left,
		labelStyle.Render("right"), m.status.Right,
		labelStyle.Render("follow"), onOff(m.status.Following))
	if line := m.status.Line; line != nil {
		fmt.Fprintf(&sb, "%s %s / %s\n", labelStyle.Render("line"), onOff(line.Left), onOff(line.Right))
	}
	if m.status.Distance != nil {
		fmt.Fprintf(&sb, "%s %.1f %s\n", labelStyle.Render("distance"), *m.status.Distance, m.status.Unit)
	}
	if b := m.status.Battery; b != nil {
		fmt.Fprintf(&sb, "%s %.2f V %.0f%%\n", labelStyle.Render("battery"), b.BatteryVoltage, b.ChargePercents)
	}
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	for _, e := range m.errs {
		sb.WriteString(errorStyle.Render(e))
		sb.WriteString("\n")
	}
	sb.WriteString(labelStyle.Render(helpMessage))
	sb.WriteString("\n")
	return sb.String()
}
