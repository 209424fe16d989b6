package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

func TestSessionAlertRules(t *testing.T) {
	root := filepath.Join("..", "..")
	data, err := os.ReadFile(filepath.Join(root, "deploy", "prometheus", "alerts", "session.yml"))
	require.NoError(t, err)
	runbook, err := os.ReadFile(filepath.Join(root, "docs", "runbook-session.md"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	require.Len(t, file.Groups, 1)
	require.Equal(t, "session", file.Groups[0].Name)

	severities := map[string]string{
		"HighErrorRate":          "critical",
		"ForcedLogoutSpike":      "warning",
		"UpstreamCheckFails":     "warning",
		"UpstreamLogoutsDropped": "warning",
	}
	rules := file.Groups[0].Rules
	require.Len(t, rules, len(severities))

	for _, rule := range rules {
		t.Run(rule.Alert, func(t *testing.T) {
			want, ok := severities[rule.Alert]
			require.True(t, ok, "unexpected rule")
			assert.Equal(t, want, rule.Labels["severity"])
			assert.NotEmpty(t, rule.Expr)
			assert.Contains(t, rule.Expr, "campusdesk_")
			assert.NotEmpty(t, rule.For)
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])

			doc, anchor, found := strings.Cut(rule.Annotations["runbook"], "#")
			require.True(t, found, "runbook link needs an anchor")
			assert.Equal(t, "docs/runbook-session.md", doc)
			assert.Contains(t, string(runbook), "\n## "+anchor+"\n", "runbook section missing")
		})
	}
}
