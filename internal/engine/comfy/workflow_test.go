package comfy

import "testing"

const flatWorkflow = `{
	"1": {"class_type": "LoadImage", "_meta": {"title": "input:raw_image:1"}, "inputs": {"image": "old.png"}},
	"2": {"class_type": "SaveImage", "_meta": {"title": "output:image:1"}, "inputs": {}}
}`

const graphWorkflow = `{
	"nodes": [
		{"id": 1, "type": "LoadImage", "title": "input:raw_image:1", "inputs": {}},
		{"id": 2, "type": "SaveImage", "title": "output:image:1", "inputs": {}}
	],
	"links": [],
	"version": 0.4
}`

func TestParseWorkflow_FlatFormat(t *testing.T) {
	wf, err := parseWorkflow([]byte(flatWorkflow))
	if err != nil {
		t.Fatalf("parseWorkflow: %v", err)
	}
	if len(wf) != 2 {
		t.Fatalf("got %d nodes, want 2", len(wf))
	}
	if id := wf.findByTitle(titlePrimaryInput); id != "1" {
		t.Errorf("findByTitle(input) = %q, want 1", id)
	}
	if id := wf.findByTitle(titlePrimaryOutput); id != "2" {
		t.Errorf("findByTitle(output) = %q, want 2", id)
	}
}

func TestParseWorkflow_GraphFormat(t *testing.T) {
	wf, err := parseWorkflow([]byte(graphWorkflow))
	if err != nil {
		t.Fatalf("parseWorkflow: %v", err)
	}
	if len(wf) != 2 {
		t.Fatalf("got %d nodes, want 2", len(wf))
	}
	// Numeric ids normalize to their decimal string form.
	if id := wf.findByTitle(titlePrimaryInput); id != "1" {
		t.Errorf("findByTitle(input) = %q, want 1", id)
	}
}

func TestParseWorkflow_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"scalar node", `{"1": "not a node"}`},
		{"empty object", `{}`},
		{"meta only", `{"links": [], "version": 0.4, "nodes": []}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseWorkflow([]byte(tc.raw)); err == nil {
				t.Error("parseWorkflow should fail")
			}
		})
	}
}

func TestWorkflow_SetImageInput(t *testing.T) {
	wf, err := parseWorkflow([]byte(flatWorkflow))
	if err != nil {
		t.Fatalf("parseWorkflow: %v", err)
	}

	wf.setImageInput("1", "uploaded.png")

	inputs := wf["1"]["inputs"].(map[string]any)
	if inputs["image"] != "uploaded.png" {
		t.Errorf("image input = %v, want uploaded.png", inputs["image"])
	}

	// Nodes without an inputs object get one.
	wf["2"]["inputs"] = nil
	delete(wf["2"], "inputs")
	wf.setImageInput("2", "other.png")
	inputs = wf["2"]["inputs"].(map[string]any)
	if inputs["image"] != "other.png" {
		t.Errorf("image input = %v, want other.png", inputs["image"])
	}
}

func TestWorkflow_FindByTitleMissing(t *testing.T) {
	wf, err := parseWorkflow([]byte(flatWorkflow))
	if err != nil {
		t.Fatalf("parseWorkflow: %v", err)
	}
	if id := wf.findByTitle("input:pose_image:2"); id != "" {
		t.Errorf("findByTitle = %q, want empty for absent tag", id)
	}
}
