package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/status"
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
	"kindClass": func(k logic.Kind) string {
		switch k {
		case logic.KindOverdue, logic.KindError:
			return "overdue"
		case logic.KindDueToday:
			return "today"
		case "", logic.KindUnknown:
			return "unknown"
		default:
			return "later"
		}
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("Mon 2 Jan 15:04 MST")
	},
	"lastTaken": func(st medicine.State) time.Time {
		t, _ := st.LastTaken()
		return t
	},
	"labelOrUnknown": func(s string) string {
		if s == "" {
			return "Unknown"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Medicine Tracker</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.overdue { color: red; font-weight: bold; }
.today { color: #b60; font-weight: bold; }
.later { color: green; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Medicine Tracker</h1>

<h2>Medicines</h2>
<table>
<tr><th>Name</th><th>Status</th><th>Next due</th><th>Last taken</th><th>Schedule</th>{{if .Commands}}<th></th>{{end}}</tr>
{{range .Medicines}}<tr>
<td>{{.Name}}{{if .Dosage}} ({{.Dosage}}){{end}}</td>
<td class="{{kindClass .Due.Kind}}">{{labelOrUnknown .Due.Label}}</td>
<td>{{when .Due.NextDue}}</td>
<td>{{when (lastTaken .)}}</td>
<td>{{.ScheduleTime}}{{if .ScheduleDays}} {{range $i, $d := .ScheduleDays}}{{if $i}},{{end}}{{$d}}{{end}}{{else}} daily{{end}}{{if eq .TimeMode "local_time"}} (local){{end}}</td>
{{if $.Commands}}<td><button onclick="cmd('take','{{.ID}}')">Taken</button> <button onclick="cmd('reset','{{.ID}}')">Reset</button></td>{{end}}
</tr>{{else}}<tr><td colspan="5">No medicines configured</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timezone</th><td>{{.Config.Timezone}}{{if .Config.TZSensor}} (local: {{.Config.TZSensor}}){{end}}</td></tr>
<tr><th>Commands</th><td>{{.Counts.Take}} taken, {{.Counts.Reset}} reset</td></tr>
<tr><th>Refresh</th><td>{{.Config.RefreshMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Storage</th><td>{{if .Config.Storage}}{{.Config.Storage}}{{else}}none{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Commands}}
<script>
function cmd(action, id) {
  fetch("/api/" + action, {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify({ entity_id: id })
  }).then(function() { location.reload(); });
}
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, commands bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Commands bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Commands: commands,
	}
	return indexTmpl.Execute(w, data)
}
