package topology

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

// MetricsUpdate is one telemetry sample. Nil fields are left unchanged.
// Nodes carries per-node readings keyed by node id.
type MetricsUpdate struct {
	TotalFlowRate    *float64               `json:"totalFlowRate,omitempty"`
	TotalPressure    *float64               `json:"totalPressure,omitempty"`
	TotalVolumeToday *float64               `json:"totalVolumeToday,omitempty"`
	Nodes            map[string]NodeReading `json:"nodes,omitempty"`
}

// NodeReading is one node's telemetry. Nil fields are left unchanged.
type NodeReading struct {
	FlowRate *float64 `json:"flowRate,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// FlowController toggles paths between idle and active flow and merges
// telemetry into them.
type FlowController struct {
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

// NewFlowController creates a FlowController that stamps activations with
// the wall clock.
func NewFlowController(logger *slog.Logger) *FlowController {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &FlowController{logger: logger, nowFunc: time.Now}
}

// Start activates flow on the path. A path with fewer than two nodes is left
// untouched and ErrInsufficientTopology is returned.
func (fc *FlowController) Start(p *Path) error {
	if len(p.Nodes) < 2 {
		return fmt.Errorf("start path %q with %d node(s): %w", p.ID, len(p.Nodes), ErrInsufficientTopology)
	}

	now := fc.nowFunc()
	p.Status = StatusActive
	p.LastActivated = now
	p.SetFlowing(true)

	fc.logger.Info("flow started",
		slog.String("path", p.ID),
		slog.Int("nodes", len(p.Nodes)),
		slog.Int("flowing_connections", countFlowing(p)),
	)

	return nil
}

// Stop returns the path to idle. Stopping an idle path is a no-op.
func (fc *FlowController) Stop(p *Path) {
	if p.Status == StatusIdle && !p.IsFlowing {
		return
	}

	p.Status = StatusIdle
	p.SetFlowing(false)

	fc.logger.Info("flow stopped", slog.String("path", p.ID))
}

// ApplyMetrics merges a telemetry sample into the path. Every value is
// checked before any is applied, so a rejected sample leaves the previous
// readings in place.
func (fc *FlowController) ApplyMetrics(p *Path, m MetricsUpdate) error {
	if err := checkMetric("totalFlowRate", m.TotalFlowRate); err != nil {
		return err
	}

	if err := checkMetric("totalPressure", m.TotalPressure); err != nil {
		return err
	}

	if err := checkMetric("totalVolumeToday", m.TotalVolumeToday); err != nil {
		return err
	}

	for id, r := range m.Nodes {
		if _, ok := p.indexOf(id); !ok {
			return fmt.Errorf("%w: reading for node %q which is not in path %q", ErrInvalidMetric, id, p.ID)
		}

		if err := checkMetric(id+".flowRate", r.FlowRate); err != nil {
			return err
		}

		if err := checkMetric(id+".pressure", r.Pressure); err != nil {
			return err
		}
	}

	if m.TotalFlowRate != nil {
		p.Metrics.TotalFlowRate = *m.TotalFlowRate
	}

	if m.TotalPressure != nil {
		p.Metrics.TotalPressure = *m.TotalPressure
	}

	if m.TotalVolumeToday != nil {
		p.Metrics.TotalVolumeToday = *m.TotalVolumeToday
	}

	for id, r := range m.Nodes {
		i, _ := p.indexOf(id)
		if r.FlowRate != nil {
			p.Nodes[i].FlowRate = clonePtr(r.FlowRate)
		}

		if r.Pressure != nil {
			p.Nodes[i].Pressure = clonePtr(r.Pressure)
		}
	}

	if p.MaxFlowRate > 0 && p.Metrics.TotalFlowRate > p.MaxFlowRate {
		fc.logger.Warn("flow rate above path limit",
			slog.String("path", p.ID),
			slog.Float64("flow_rate", p.Metrics.TotalFlowRate),
			slog.Float64("max_flow_rate", p.MaxFlowRate),
		)
	}

	return nil
}

func checkMetric(name string, v *float64) error {
	if v == nil {
		return nil
	}

	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return fmt.Errorf("%w: %s = %v", ErrInvalidMetric, name, *v)
	}

	return nil
}

func countFlowing(p *Path) int {
	n := 0

	for _, c := range p.Connections {
		if c.IsFlowing {
			n++
		}
	}

	return n
}
