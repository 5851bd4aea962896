package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/gpio-hub/internal/device"
	"github.com/sweeney/gpio-hub/internal/status"
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
	"stateClass": func(st device.State) string {
		switch {
		case !st.Available:
			return "unknown"
		case st.Value() == "ON" || st.Value() == "OPEN" || st.Value() == "OPENING":
			return "on"
		default:
			return "off"
		}
	},
	"actions": func(st device.State) []string {
		switch st.Kind {
		case device.KindSwitch:
			return []string{"ON", "OFF", "TOGGLE"}
		case device.KindCover:
			return []string{"OPEN", "CLOSE", "STOP"}
		}
		return nil
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>GPIO Hub</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; }
</style>
</head>
<body>
<h1>GPIO Hub</h1>

<h2>Devices</h2>
<table>
{{range .Devices}}<tr id="dev-{{.ID}}"><th>{{.Name}} <small>({{.Kind}}, line {{range $i, $o := .Offsets}}{{if $i}}/{{end}}{{$o}}{{end}})</small></th>
<td class="{{stateClass .}}">{{if .Available}}{{.Value}}{{else}}UNAVAILABLE{{end}}{{if .Error}} <small>{{.Error}}</small>{{end}}</td>
<td>{{$id := .ID}}{{range actions .}}<button data-device="{{$id}}" data-action="{{.}}">{{.}}</button> {{end}}</td></tr>
{{else}}<tr><td>no devices</td></tr>
{{end}}</table>

<h2>Chip</h2>
<table>
<tr><th>Device</th><td class="{{if .Chip.Online}}connected{{else}}disconnected{{end}}">{{if .Chip.Name}}{{.Chip.Name}}{{else}}none{{end}}</td></tr>
<tr><th>Path</th><td>{{.Chip.Path}}</td></tr>
<tr><th>Label</th><td>{{.Chip.Label}}</td></tr>
<tr><th>Lines</th><td>{{.Chip.Lines}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Prefix</th><td>{{.Config.Prefix}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>State changes</th><td>{{.Counts.Changes}}</td></tr>
<tr><th>Unavailable</th><td>{{.Counts.Unavailable}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
document.querySelectorAll("button[data-device]").forEach(function(b) {
  b.addEventListener("click", function() {
    fetch("/devices/" + b.dataset.device + "/" + b.dataset.action, { method: "POST" })
      .then(function() { setTimeout(function() { location.reload(); }, 300); });
  });
});
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
