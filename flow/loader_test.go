package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mohitkumar/drip/model"
	"github.com/stretchr/testify/require"
)

const yamlFlow = `
name: welcome
nodes:
  - id: list
    type: emailList
    data:
      emails: |
        a@x.com

        b@x.com
  - id: pause
    type: wait
    data:
      duration: 10
      unit: seconds
  - id: hello
    type: sendEmail
    data:
      subject: hi
      body: body
edges:
  - source: list
    target: pause
  - source: pause
    target: hello
`

const jsonFlow = `{
  "name": "welcome",
  "nodes": [
    {"id": "list", "type": "emailList", "data": {"emails": ["a@x.com", " b@x.com "]}},
    {"id": "pause", "type": "wait", "data": {"duration": "10", "unit": "seconds"}},
    {"id": "hello", "type": "sendEmail", "data": {"subject": "hi", "body": "body"}}
  ],
  "edges": [{"source": "list", "target": "pause"}, {"source": "pause", "target": "hello"}]
}`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{"flow.yaml": yamlFlow, "flow.json": jsonFlow} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			fl, err := LoadFile(path)
			require.NoError(t, err)
			require.Equal(t, "welcome", fl.Name)

			seq, err := Linearize(fl.Nodes, fl.Edges)
			require.NoError(t, err)
			require.Len(t, seq, 3)
			require.Equal(t, model.Recipients{"a@x.com", "b@x.com"}, seq[0].Emails)
			require.Equal(t, model.WaitDuration("10"), seq[1].Duration)
			require.Equal(t, "hi", seq[2].Subject)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
