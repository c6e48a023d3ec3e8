package container

import (
	"fmt"
	"strings"

	"llmtrayd/pkg/types"
)

// inspectFormat extracts running state plus the two GPU signals the
// classifier needs: the configured runtime and any device requests.
const inspectFormat = `{{.State.Running}}|{{.HostConfig.Runtime}}|{{json .HostConfig.DeviceRequests}}`

// parseInspect interprets one line of `docker inspect -f inspectFormat`.
func parseInspect(out string) (InspectResult, error) {
	parts := strings.Split(strings.TrimSpace(out), "|")
	if len(parts) < 1 || parts[0] == "" {
		return InspectResult{}, fmt.Errorf("unexpected inspect output: %q", out)
	}
	res := InspectResult{Running: parts[0] == "true"}
	runtime := ""
	if len(parts) > 1 {
		runtime = parts[1]
	}
	deviceRequests := "null"
	if len(parts) > 2 {
		deviceRequests = parts[2]
	}
	// GPU evidence: nvidia runtime, or a device request naming a gpu.
	if runtime == "nvidia" || (deviceRequests != "null" && strings.Contains(strings.ToLower(deviceRequests), "gpu")) {
		res.GPU = true
	}
	return res, nil
}

// psFormat is the tab-separated shape requested from `docker ps`.
const psFormat = `{{.Names}}\t{{.Image}}\t{{.Status}}`

// parseProcessList interprets `docker ps` output in psFormat.
func parseProcessList(out string) []Process {
	var procs []Process
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		p := Process{Name: fields[0], Running: true}
		if len(fields) > 1 {
			p.Image = fields[1]
		}
		if len(fields) > 2 {
			p.Status = fields[2]
		}
		procs = append(procs, p)
	}
	return procs
}

// parseModelList interprets the inference server's tabular model listing
// (NAME / ID / SIZE / MODIFIED columns, header skipped).
func parseModelList(out string) []types.Model {
	var models []types.Model
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "NAME" {
			continue
		}
		m := types.Model{Name: fields[0]}
		if len(fields) > 1 {
			m.Digest = fields[1]
		}
		if len(fields) > 3 {
			m.Size = fields[2] + " " + fields[3]
		}
		if len(fields) > 4 {
			m.Modified = strings.Join(fields[4:], " ")
		}
		models = append(models, m)
	}
	return models
}
