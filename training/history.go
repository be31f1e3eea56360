package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
)

// Record is one line in the run's metrics.jsonl: the state of training at
// the end of one epoch. Metric names are "<split>/<metric>", e.g.
// "valid/loss".
type Record struct {
	Epoch        int                `json:"epoch"`
	GlobalStep   int64              `json:"global_step"`
	LearningRate float64            `json:"learning_rate"`
	Metrics      map[string]float64 `json:"metrics"`
}

// History accumulates per-epoch records, appends them to metrics.jsonl in
// the run directory as they arrive (so an interrupted run keeps its log) and
// renders learning-curve SVGs at the end.
type History struct {
	dir     string
	records []Record
}

func NewHistory(dir string) *History {
	return &History{dir: dir}
}

// Append records one epoch and appends it to the JSONL log.
func (h *History) Append(r Record) error {
	h.records = append(h.records, r)
	f, err := os.OpenFile(path.Join(h.dir, "metrics.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "opening metrics log")
	}
	defer func() { _ = f.Close() }()
	line, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encoding metrics record")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "appending metrics record")
	}
	return nil
}

// Plot renders one SVG per metric type in the run directory, with one line
// per split. The type is the metric name's part after the "/", so the train
// and validation losses share a plot.
func (h *History) Plot() error {
	if len(h.records) == 0 {
		return nil
	}
	type plot struct {
		series map[string]*mg.Series
		all    *mg.Series
	}
	plots := make(map[string]*plot)
	for _, r := range h.records {
		for name, value := range r.Metrics {
			metricType := name
			if i := strings.LastIndex(name, "/"); i >= 0 {
				metricType = name[i+1:]
			}
			p := plots[metricType]
			if p == nil {
				p = &plot{series: make(map[string]*mg.Series), all: mg.NewSeries()}
				plots[metricType] = p
			}
			s := p.series[name]
			if s == nil {
				s = mg.NewSeries(mg.Titled(name))
				p.series[name] = s
			}
			v := mg.MakeValue(float64(r.Epoch), value)
			s.Add(v)
			p.all.Add(v)
		}
	}
	for metricType, p := range plots {
		if err := h.renderPlot(metricType, p.series, p.all); err != nil {
			return err
		}
	}
	return nil
}

func (h *History) renderPlot(metricType string, series map[string]*mg.Series, all *mg.Series) error {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)
	ordered := make([]*mg.Series, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, series[name])
	}
	diagram := mg.New(1024, 400,
		mg.WithAutorange(mg.XAxis, ordered...),
		mg.WithAutorange(mg.YAxis, ordered...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90))
	for _, s := range ordered {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(all, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(all, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, metricType)
	diagram.Frame()
	diagram.Title(fmt.Sprintf("%s per epoch", metricType))
	diagram.Legend(mg.BottomLeft)

	filePath := path.Join(h.dir, fmt.Sprintf("plot_%s.svg", metricType))
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	defer func() { _ = f.Close() }()
	if err := diagram.Render(f); err != nil {
		return errors.Wrapf(err, "rendering %q", filePath)
	}
	return nil
}
