package api

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prognoza/umg-vpn-poller/internal/device"
	"github.com/prognoza/umg-vpn-poller/internal/export"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
	"github.com/prognoza/umg-vpn-poller/internal/vpn"
)

// indexData is rendered by indexTemplate.
type indexData struct {
	VPN        vpn.ConnectionStatus
	Health     device.Health
	Poller     supervisor.Status
	LatestFile string
	LatestRow  *export.Row
	LatestErr  string
	Generated  time.Time
}

// index renders the dashboard. The VPN status and health probes run
// concurrently since each can take a few seconds.
func (h *handler) index(c *gin.Context) {
	ctx := c.Request.Context()
	data := indexData{Poller: h.Poller.Status(), Generated: time.Now()}

	vpnCh := make(chan vpn.ConnectionStatus, 1)
	go func() { vpnCh <- h.VPN.Status(ctx) }()
	data.Health = h.Health(ctx)
	data.VPN = <-vpnCh

	path, row, err := h.Latest()
	switch {
	case err == nil:
		data.LatestFile = path
		data.LatestRow = &row
	case fault.KindOf(err) == fault.KindNotFound:
		// Nothing exported yet.
	default:
		data.LatestErr = err.Error()
	}

	c.HTML(http.StatusOK, "index", data)
}

var templateFuncs = template.FuncMap{
	"ms": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f ms", *v)
	},
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"tsp": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("15:04:05")
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>UMG On-Demand Poller</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.ok { color: #1a7f37; } .bad { color: #cf222e; }
form { display: inline; }
</style>
</head>
<body>
<h1>UMG On-Demand Poller</h1>

<h2>VPN</h2>
<table>
<tr><th>Connected</th><td class="{{if .VPN.IsConnected}}ok{{else}}bad{{end}}">{{yesno .VPN.IsConnected}}</td></tr>
<tr><th>Profile</th><td>{{.VPN.ProfileName}}</td></tr>
<tr><th>VPN IP</th><td>{{or .VPN.VPNIP "-"}}</td></tr>
<tr><th>PID</th><td>{{if .VPN.PID}}{{.VPN.PID}}{{else}}-{{end}}</td></tr>
<tr><th>Checks</th><td>ping {{yesno .VPN.Checks.Ping}}, tcp {{yesno .VPN.Checks.TCP}}</td></tr>
{{if .VPN.Error}}<tr><th>Error</th><td class="bad">{{.VPN.Error}}</td></tr>{{end}}
</table>
<form method="post" action="/vpn/connect"><button>Connect</button></form>
<form method="post" action="/vpn/disconnect"><button>Disconnect</button></form>

<h2>Device</h2>
<table>
<tr><th>Reachable</th><td class="{{if .Health.Reachable}}ok{{else}}bad{{end}}">{{yesno .Health.Reachable}}</td></tr>
<tr><th>HTTP</th><td>{{ms .Health.HTTPLatencyMs}}</td></tr>
<tr><th>Modbus</th><td>{{ms .Health.ModbusLatencyMs}}</td></tr>
</table>
<form method="post" action="/run"><button>Poll now</button></form>

<h2>Background poller</h2>
<table>
<tr><th>State</th><td>{{.Poller.State}}</td></tr>
<tr><th>Cycles</th><td>{{.Poller.CyclesCompleted}} ok, {{.Poller.Failures}} failed</td></tr>
<tr><th>Estimate</th><td>{{printf "%.2f s" .Poller.EstimateSeconds}}</td></tr>
<tr><th>Next target</th><td>{{tsp .Poller.NextTarget}}</td></tr>
{{if .Poller.LastError}}<tr><th>Last error</th><td class="bad">{{.Poller.LastError}}</td></tr>{{end}}
</table>
<form method="post" action="/poller/start"><button>Start</button></form>
<form method="post" action="/poller/stop"><button>Stop</button></form>

<h2>Latest reading</h2>
{{if .LatestRow}}
<p>{{.LatestFile}}</p>
<table>
{{range $col := .LatestRow.Columns}}<tr><th>{{$col}}</th><td>{{$.LatestRow.Get $col}}</td></tr>
{{end}}
</table>
{{else if .LatestErr}}
<p class="bad">{{.LatestErr}}</p>
{{else}}
<p>No readings exported yet.</p>
{{end}}

<p><small>Generated {{ts .Generated}} &middot; <a href="/metrics">metrics</a></small></p>
</body>
</html>
`
