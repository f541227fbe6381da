package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"sort"
	"time"

	"github.com/sweeney/cdu-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onoff": func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	},
	"statusClass": func(s string) string {
		switch s {
		case "NORMAL":
			return "ok"
		case "NOT_PRESENT":
			return "unknown"
		}
		return "alarm"
	},
	"hex": func(v uint32) string { return fmt.Sprintf("0x%08X", v) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>CDU Controller</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok, .on, .connected { color: green; }
.off { color: #888; }
.unknown { color: orange; }
.alarm, .disconnected { color: red; font-weight: bold; }
</style>
</head>
<body>
<h1>CDU Controller <small>{{.InstanceID}}</small></h1>

<h2>Control</h2>
<table>
<tr><th>Control</th><td class="{{onoff .Flags.Control}}">{{onoff .Flags.Control}}</td></tr>
<tr><th>Threshold monitor</th><td class="{{onoff .Flags.Monitor}}">{{onoff .Flags.Monitor}}</td></tr>
<tr><th>Sensor polling</th><td class="{{onoff .Flags.Polling}}">{{onoff .Flags.Polling}}</td></tr>
<tr><th>Pump redundancy</th><td>{{.Flags.Redundancy}}</td></tr>
</table>

<h2>Zones</h2>
<table>
<tr><th>Zone</th><th>Target</th><th>State</th><th>Duty</th></tr>
{{range .Zones}}<tr><td>{{.ID}}</td><td>{{.Target}}</td><td>{{.State}}</td><td>{{.Duty}}%</td></tr>
{{end}}</table>

<h2>Thresholds</h2>
<table>
<tr><th>Sensor</th><th>Mode</th><th>Status</th></tr>
{{range .Thresholds}}<tr><td>{{.Name}} ({{.Sensor}})</td><td>{{.Mode}}</td><td class="{{statusClass .Status}}">{{.Status}}</td></tr>
{{end}}</table>

<h2>Registers</h2>
<table>
{{range .Registers}}<tr><th>{{.Name}}</th><td>{{hex .Value}}</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>FSC tick</th><td>{{.Config.FSCIntervalMs}}ms</td></tr>
<tr><th>Threshold tick</th><td>{{.Config.ThresholdIntervalMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

type registerRow struct {
	Name  string
	Value uint32
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	rows := make([]registerRow, 0, len(snap.Registers))
	for name, v := range snap.Registers {
		rows = append(rows, registerRow{Name: name, Value: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Registers []registerRow
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Registers: rows,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
