package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

func frameAxis(hist []awb.Snapshot) []string {
	xs := make([]string, len(hist))
	for i, s := range hist {
		xs[i] = strconv.FormatUint(s.Frames, 10)
	}
	return xs
}

// gainChart plots the applied ratios and the damping coefficient per frame.
func gainChart(hist []awb.Snapshot) *charts.Line {
	rg := make([]opts.LineData, len(hist))
	bg := make([]opts.LineData, len(hist))
	damp := make([]opts.LineData, len(hist))
	for i, s := range hist {
		rg[i] = opts.LineData{Value: s.Gain.Ratio.Rg}
		bg[i] = opts.LineData{Value: s.Gain.Ratio.Bg}
		damp[i] = opts.LineData{Value: s.Gain.Damping}
	}
	colors := hexPalette(3)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "AWB Gains", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Gain ratios", Subtitle: fmt.Sprintf("frames=%d", len(hist))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(frameAxis(hist)).
		AddSeries("R/G", rg, charts.WithLineStyleOpts(opts.LineStyle{Color: colors[0]})).
		AddSeries("B/G", bg, charts.WithLineStyleOpts(opts.LineStyle{Color: colors[1]})).
		AddSeries("damping", damp, charts.WithLineStyleOpts(opts.LineStyle{Color: colors[2]}))
	return line
}

// weightChart stacks the normalised illuminant weights per frame.
func weightChart(hist []awb.Snapshot) *charts.Line {
	var names []string
	if len(hist) > 0 {
		names = hist[len(hist)-1].Illuminants
	}
	colors := hexPalette(len(names))

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "AWB Weights", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Illuminant weights"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(frameAxis(hist))
	for k, name := range names {
		data := make([]opts.LineData, len(hist))
		for i, s := range hist {
			var w float64
			if k < len(s.Estimate.Weight) {
				w = s.Estimate.Weight[k]
			}
			data[i] = opts.LineData{Value: w}
		}
		line.AddSeries(name, data,
			charts.WithLineChartOpts(opts.LineChart{Stack: "weights"}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colors[k]}),
		)
	}
	return line
}

func (ws *WebServer) renderCharts(w http.ResponseWriter, chart ...components.Charter) {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(chart...)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.Errorf(w, http.StatusInternalServerError, "render error: %v", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleGainChart(w http.ResponseWriter, r *http.Request) {
	ws.renderCharts(w, gainChart(ws.history(r)))
}

func (ws *WebServer) handleWeightChart(w http.ResponseWriter, r *http.Request) {
	ws.renderCharts(w, weightChart(ws.history(r)))
}
