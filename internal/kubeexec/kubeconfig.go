package kubeexec

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileRefToDataKey maps a kubeconfig path-reference key to the inlined
// data-key it should be rewritten into.
var fileRefToDataKey = map[string]string{
	"certificate-authority": "certificate-authority-data",
	"client-certificate":    "client-certificate-data",
	"client-key":            "client-key-data",
}

// normalizeKubeconfig inlines file-based TLS material (caFile, certFile,
// keyFile) into their -data equivalents, so a kubeconfig authored on the
// caller's machine remains usable inside the gateway's container, which
// does not share that filesystem (spec.md §9 "Kubeconfig normalization").
//
// Parsing uses yaml.v3's Node API for a targeted rewrite, mirroring the
// teacher's own partial-parse use of yaml.Node in pkg/agent/config.go
// (yamlConfig.Resources), rather than round-tripping through a typed
// struct that would need to mirror every kubeconfig field.
func normalizeKubeconfig(raw []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse kubeconfig yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return raw, nil
	}
	root := doc.Content[0]

	if err := inlineFileRefs(root, "clusters", "cluster"); err != nil {
		return nil, err
	}
	if err := inlineFileRefs(root, "users", "user"); err != nil {
		return nil, err
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("re-marshal kubeconfig: %w", err)
	}
	return out, nil
}

// inlineFileRefs walks root[listKey][*][entryKey] mapping nodes (e.g.
// clusters[*].cluster) and rewrites any certificate-authority/
// client-certificate/client-key path reference into its inlined
// base64 -data counterpart.
func inlineFileRefs(root *yaml.Node, listKey, entryKey string) error {
	list := mapValue(root, listKey)
	if list == nil || list.Kind != yaml.SequenceNode {
		return nil
	}

	for _, item := range list.Content {
		entry := mapValue(item, entryKey)
		if entry == nil || entry.Kind != yaml.MappingNode {
			continue
		}
		for fileKey, dataKey := range fileRefToDataKey {
			if err := inlineOne(entry, fileKey, dataKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// inlineOne rewrites a single fileKey -> dataKey pair in place, leaving
// the mapping untouched if fileKey is absent or dataKey is already set.
func inlineOne(entry *yaml.Node, fileKey, dataKey string) error {
	if mapValue(entry, dataKey) != nil {
		return nil // already inlined
	}
	pathNode := mapValue(entry, fileKey)
	if pathNode == nil || pathNode.Value == "" {
		return nil
	}

	content, err := os.ReadFile(pathNode.Value)
	if err != nil {
		return fmt.Errorf("read %s referenced by kubeconfig: %w", fileKey, err)
	}
	encoded := base64.StdEncoding.EncodeToString(content)

	// Replace the fileKey/value pair with dataKey/encoded in place.
	for i := 0; i+1 < len(entry.Content); i += 2 {
		if entry.Content[i].Value == fileKey {
			entry.Content[i].Value = dataKey
			entry.Content[i+1].Value = encoded
			entry.Content[i+1].Tag = "!!str"
			return nil
		}
	}
	return nil
}

// mapValue looks up key in a YAML mapping node, returning nil if node is
// not a mapping or the key is absent.
func mapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
