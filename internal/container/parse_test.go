package container

import "testing"

func TestParseInspect(t *testing.T) {
	cases := []struct {
		name    string
		out     string
		running bool
		gpu     bool
	}{
		{"running cpu", "true||null\n", true, false},
		{"running nvidia runtime", "true|nvidia|null", true, true},
		{"running gpu device request", `true||[{"Driver":"nvidia","Capabilities":[["gpu"]]}]`, true, true},
		{"stopped", "false||null", false, false},
		{"stopped with gpu binding", "false|nvidia|null", false, true},
	}
	for _, tc := range cases {
		res, err := parseInspect(tc.out)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Running != tc.running || res.GPU != tc.gpu {
			t.Fatalf("%s: got %+v", tc.name, res)
		}
	}
}

func TestParseInspectEmpty(t *testing.T) {
	if _, err := parseInspect("  \n"); err == nil {
		t.Fatalf("expected error for empty inspect output")
	}
}

func TestParseProcessList(t *testing.T) {
	out := "ollama\tollama/ollama:latest\tUp 2 hours\nweb\tnginx\tUp 5 minutes\n"
	procs := parseProcessList(out)
	if len(procs) != 2 {
		t.Fatalf("expected 2 processes, got %d", len(procs))
	}
	if procs[0].Name != "ollama" || procs[0].Image != "ollama/ollama:latest" || !procs[0].Running {
		t.Fatalf("unexpected first process: %+v", procs[0])
	}
}

func TestParseModelList(t *testing.T) {
	out := `NAME            ID            SIZE    MODIFIED
llama3:8b       365c0bd3c000  4.7 GB  3 weeks ago
mistral:latest  61e88e884507  4.1 GB  2 days ago
`
	models := parseModelList(out)
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	m := models[0]
	if m.Name != "llama3:8b" || m.Digest != "365c0bd3c000" || m.Size != "4.7 GB" || m.Modified != "3 weeks ago" {
		t.Fatalf("unexpected model: %+v", m)
	}
}

func TestParseModelListEmpty(t *testing.T) {
	if got := parseModelList("NAME ID SIZE MODIFIED\n"); len(got) != 0 {
		t.Fatalf("expected no models, got %+v", got)
	}
}
