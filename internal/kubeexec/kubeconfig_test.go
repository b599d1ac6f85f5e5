package kubeexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeKubeconfigInlinesFileRefs(t *testing.T) {
	dir := t.TempDir()

	caPath := filepath.Join(dir, "ca.crt")
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(caPath, []byte("ca-bytes"), 0o600))
	require.NoError(t, os.WriteFile(certPath, []byte("cert-bytes"), 0o600))
	require.NoError(t, os.WriteFile(keyPath, []byte("key-bytes"), 0o600))

	raw := `
apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://example.com
    certificate-authority: ` + caPath + `
users:
- name: test
  user:
    client-certificate: ` + certPath + `
    client-key: ` + keyPath + `
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
`

	out, err := normalizeKubeconfig([]byte(raw))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))

	clusters := doc["clusters"].([]any)
	cluster := clusters[0].(map[string]any)["cluster"].(map[string]any)
	require.NotContains(t, cluster, "certificate-authority")
	require.Equal(t, "Y2EtYnl0ZXM=", cluster["certificate-authority-data"])

	users := doc["users"].([]any)
	user := users[0].(map[string]any)["user"].(map[string]any)
	require.NotContains(t, user, "client-certificate")
	require.NotContains(t, user, "client-key")
	require.Equal(t, "Y2VydC1ieXRlcw==", user["client-certificate-data"])
	require.Equal(t, "a2V5LWJ5dGVz", user["client-key-data"])
}

func TestNormalizeKubeconfigLeavesInlinedDataAlone(t *testing.T) {
	raw := `
apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://example.com
    certificate-authority-data: QUFB
`
	out, err := normalizeKubeconfig([]byte(raw))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	clusters := doc["clusters"].([]any)
	cluster := clusters[0].(map[string]any)["cluster"].(map[string]any)
	require.Equal(t, "QUFB", cluster["certificate-authority-data"])
}
