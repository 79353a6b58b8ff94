// Package report renders a scenario run report as a standalone HTML page.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/AI-driven-ST-Foundation/agent/engine"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/version"
)

//go:embed templates/report.html
var templateFS embed.FS

// ReportData is the data passed to the HTML template.
type ReportData struct {
	Version     string
	GeneratedAt string
	Run         *engine.RunReport
	PassRate    float64
	Steps       []StepView
	HasUsage    bool
}

type StepView struct {
	engine.StepResult
	Status      string
	StatusClass string
	Call        string
}

// Generator handles HTML report generation
type Generator struct {
	tmpl *template.Template
}

func NewGenerator() (*Generator, error) {
	funcMap := template.FuncMap{
		"formatNumber": formatNumber,
		"truncate": func(s string, n int) string {
			if len(s) <= n {
				return s
			}
			return s[:n-3] + "..."
		},
		"hasDetails": func(s string) bool {
			return s != "" && s != "{}" && s != "null"
		},
	}

	tmpl, err := template.New("report.html").Funcs(funcMap).ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Generator{tmpl: tmpl}, nil
}

func (g *Generator) GenerateHTML(run *engine.RunReport) (string, error) {
	if run == nil {
		return "", fmt.Errorf("no run report to render")
	}
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, buildReportData(run)); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func (g *Generator) GenerateHTMLToFile(run *engine.RunReport, outputPath string) error {
	html, err := g.GenerateHTML(run)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, []byte(html), logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	logger.Logger.Info("HTML report written", "path", outputPath)
	return nil
}

func buildReportData(run *engine.RunReport) ReportData {
	data := ReportData{
		Version:     version.Version,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Run:         run,
		HasUsage:    run.Usage != nil,
		Steps:       make([]StepView, 0, len(run.Steps)),
	}
	if executed := run.Passed + run.Failed; executed > 0 {
		data.PassRate = float64(run.Passed) / float64(executed) * 100
	}
	for _, s := range run.Steps {
		data.Steps = append(data.Steps, buildStepView(s))
	}
	return data
}

func buildStepView(s engine.StepResult) StepView {
	v := StepView{StepResult: s}
	switch {
	case s.Skipped:
		v.Status, v.StatusClass = "SKIP", "skipped"
	case s.Passed:
		v.Status, v.StatusClass = "PASS", "passed"
	default:
		v.Status, v.StatusClass = "FAIL", "failed"
	}
	if s.Keyword != "" {
		v.Call = strings.TrimSpace(s.Keyword + "  " + strings.Join(s.Args, "  "))
	}
	return v
}

// formatNumber inserts thousands separators: 1234567 -> 1,234,567.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
