package comfy

import (
	"encoding/json"
	"fmt"
)

// Node title tags marking designated inputs and outputs of a workflow.
const (
	titlePrimaryInput   = "input:raw_image:1"
	titleSecondaryInput = "input:pose_image:2"
	titlePrimaryOutput  = "output:image:1"
	titleComparerOutput = "output:image_comparer:2"
)

// wrapper keys of the graph export format that are not nodes.
var graphMetaKeys = map[string]bool{
	"nodes":   true,
	"links":   true,
	"extra":   true,
	"config":  true,
	"version": true,
}

// workflow is the flat prompt form of a workflow graph: node id -> node.
type workflow map[string]map[string]any

// parseWorkflow normalizes raw workflow JSON into the flat prompt form.
// Two input shapes are accepted: an already flat mapping whose values are
// all node objects (wrapper keys aside), and the graph export format with
// a top-level "nodes" list.
func parseWorkflow(raw []byte) (workflow, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("workflow is not a JSON object: %w", err)
	}

	if nodes, ok := doc["nodes"].([]any); ok {
		return fromNodeList(nodes)
	}

	flat := make(workflow, len(doc))
	for key, value := range doc {
		if graphMetaKeys[key] {
			continue
		}
		node, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node %q is not an object", key)
		}
		flat[key] = node
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("workflow contains no nodes")
	}

	return flat, nil
}

func fromNodeList(nodes []any) (workflow, error) {
	flat := make(workflow, len(nodes))
	for _, raw := range nodes {
		node, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node list entry is not an object")
		}
		id, ok := node["id"]
		if !ok {
			continue
		}
		flat[idString(id)] = node
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("workflow contains no nodes")
	}

	return flat, nil
}

// findByTitle returns the id of the node carrying the given title tag,
// or "" if no node matches.
func (w workflow) findByTitle(title string) string {
	for id, node := range w {
		if nodeTitle(node) == title {
			return id
		}
	}
	return ""
}

// setImageInput writes the uploaded filename into the node's image input.
func (w workflow) setImageInput(nodeID, filename string) {
	node, ok := w[nodeID]
	if !ok {
		return
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = make(map[string]any)
		node["inputs"] = inputs
	}
	inputs["image"] = filename
}

// nodeTitle reads a node's title, accepting both the top-level field of
// the graph export format and the _meta block of the prompt format.
func nodeTitle(node map[string]any) string {
	if title, ok := node["title"].(string); ok {
		return title
	}
	if meta, ok := node["_meta"].(map[string]any); ok {
		if title, ok := meta["title"].(string); ok {
			return title
		}
	}
	return ""
}

func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
