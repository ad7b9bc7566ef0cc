package monitoring

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	"time"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// The page polls at the sweep interval, within these bounds.
const (
	minRefresh     = 500 * time.Millisecond
	maxRefresh     = 5 * time.Second
	defaultRefresh = 2 * time.Second
)

type pageData struct {
	SweepInterval string
	Refresh       time.Duration
	RefreshMillis int64
	Purging       bool
}

func (m *Monitor) pageData() pageData {
	data := pageData{
		SweepInterval: "no scheduler",
		Refresh:       defaultRefresh,
	}

	if m.scheduler != nil {
		data.SweepInterval = m.scheduler.Interval().String()
		data.Purging = m.scheduler.IsEnabled()
		data.Refresh = min(max(m.scheduler.Interval(), minRefresh), maxRefresh)
	}

	data.RefreshMillis = data.Refresh.Milliseconds()

	return data
}

func (m *Monitor) page(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)
	if err := indexTemplate.Execute(buf, m.pageData()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	m.write(w, buf.Bytes())
}
