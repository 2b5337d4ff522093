package health

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/nats-io/nats.go"

	"github.com/t77yq/watchtower/internal/model"
)

// ResourceReader supplies resource gauges for the threshold check
type ResourceReader interface {
	Read(ctx context.Context) (model.ResourceGauges, error)
}

// NATSProbe checks the round-trip time to the NATS server
type NATSProbe struct {
	conn *nats.Conn
}

// NewNATSProbe creates a probe over an established NATS connection
func NewNATSProbe(conn *nats.Conn) *NATSProbe {
	return &NATSProbe{conn: conn}
}

func (p *NATSProbe) Name() string { return "nats" }

func (p *NATSProbe) Ping(ctx context.Context) (time.Duration, error) {
	if p.conn == nil || !p.conn.IsConnected() {
		return 0, fmt.Errorf("nats connection is not established")
	}
	return p.conn.RTT()
}

// DockerProbe checks that the Docker daemon answers pings
type DockerProbe struct {
	docker *client.Client
}

// NewDockerProbe creates a probe against the local Docker daemon
func NewDockerProbe() (*DockerProbe, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerProbe{docker: docker}, nil
}

func (p *DockerProbe) Name() string { return "docker" }

func (p *DockerProbe) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := p.docker.Ping(ctx); err != nil {
		return 0, fmt.Errorf("docker daemon ping failed: %w", err)
	}
	return time.Since(start), nil
}

// SelfProbe is a trivial liveness check for the engine's own loop
type SelfProbe struct{}

func (p *SelfProbe) Name() string { return "self" }

func (p *SelfProbe) Ping(ctx context.Context) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
		return 0, nil
	}
}

// ResourceProbe fails or warns when resource usage crosses thresholds
type ResourceProbe struct {
	reader  ResourceReader
	warnPct float64
	failPct float64
}

// NewResourceProbe creates a threshold check over the given reader.
// warnPct and failPct apply to CPU, memory and disk usage percentages.
func NewResourceProbe(reader ResourceReader, warnPct, failPct float64) *ResourceProbe {
	if warnPct <= 0 {
		warnPct = 80
	}
	if failPct <= 0 {
		failPct = 95
	}
	return &ResourceProbe{reader: reader, warnPct: warnPct, failPct: failPct}
}

func (p *ResourceProbe) Name() string { return "resources" }

func (p *ResourceProbe) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	gauges, err := p.reader.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read resource gauges: %w", err)
	}

	var warn *WarnError
	for name, pct := range map[string]float64{
		"cpu":    gauges.CPUPercent,
		"memory": gauges.MemoryPercent,
		"disk":   gauges.DiskPercent,
	} {
		if pct >= p.failPct {
			return time.Since(start), fmt.Errorf("%s usage %.1f%% above %.1f%%", name, pct, p.failPct)
		}
		if pct >= p.warnPct && warn == nil {
			warn = &WarnError{Reason: fmt.Sprintf("%s usage %.1f%% above %.1f%%", name, pct, p.warnPct)}
		}
	}
	if warn != nil {
		return time.Since(start), warn
	}
	return time.Since(start), nil
}
