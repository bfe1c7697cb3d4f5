package docdbcmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/docdb/design"
	mbp "go.gazette.dev/docdb/mainboilerplate"
	"go.gazette.dev/docdb/revision"
)

func TestCommandsEndToEnd(t *testing.T) {
	var out = setupConfig(t)

	// Create, update, and read back a document.
	require.NoError(t, (&cmdPut{ID: "w1", Body: `{"type": "widget", "n": 1}`}).Execute(nil))
	var created = decodeOutput(t, out)
	assert.Equal(t, "w1", created["id"])

	require.NoError(t, (&cmdPut{
		ID:     "w1",
		Parent: created["rev"].(string),
		Body:   `{"type": "widget", "n": 2}`,
	}).Execute(nil))
	var updated = decodeOutput(t, out)

	require.NoError(t, (&cmdGet{ID: "w1", Revs: true}).Execute(nil))
	var props = decodeOutput(t, out)
	assert.Equal(t, updated["rev"], props["_rev"])
	assert.Equal(t, 2.0, props["n"])
	assert.NotNil(t, props["_revisions"])

	// Updating a non-current revision conflicts.
	assert.Error(t, (&cmdPut{ID: "w1", Parent: created["rev"].(string), Body: `{}`}).Execute(nil))

	require.NoError(t, (&cmdRevs{ID: "w1"}).Execute(nil))
	assert.Contains(t, out.String(), created["rev"].(string))
	assert.Contains(t, out.String(), "winner")
	out.Reset()

	// Load fixtures, including a conflicting branch having an explicit ID.
	var fixtures = filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(`
- id: g1
  body: {type: gadget, n: 3}
- id: w1
  rev: 2-ffff
  parent: "`+created["rev"].(string)+`"
  body: {type: widget, n: 4, tags: [a, b]}
`), 0644))
	require.NoError(t, (&cmdLoad{Path: fixtures, Source: "test"}).Execute(nil))

	// A failed load inserts nothing.
	require.NoError(t, os.WriteFile(fixtures, []byte(`
- id: g2
  body: {type: gadget}
- id: g3
  parent: 1-abcd
`), 0644))
	assert.Error(t, (&cmdLoad{Path: fixtures}).Execute(nil))

	require.NoError(t, (&cmdAllDocs{Format: "json"}).Execute(nil))
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	out.Reset()

	var ids []interface{}
	for _, row := range rows {
		ids = append(ids, row["DocID"])
	}
	assert.Equal(t, []interface{}{"g1", "w1"}, ids)

	// Changes, with conflicts and with a native filter.
	require.NoError(t, (&cmdChanges{Conflicts: true}).Execute(nil))
	assert.Contains(t, out.String(), "2-ffff")
	out.Reset()

	require.NoError(t, (&cmdChanges{Filter: "field", Params: []string{"field=type", "value=gadget"}}).Execute(nil))
	assert.Contains(t, out.String(), "g1")
	assert.NotContains(t, out.String(), "w1")
	out.Reset()

	// Define and query a view.
	require.NoError(t, (&cmdPut{ID: "_design/app", Body: `{"language": "go",
		"views": {"by_type": {"map": "field:type", "reduce": "_count"}}}`}).Execute(nil))
	out.Reset()

	require.NoError(t, (&cmdViewsQuery{Name: "app/by_type", Query: `key="widget"`, Format: "json"}).Execute(nil))
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	out.Reset()
	require.Len(t, rows, 1)
	assert.Equal(t, "w1", rows[0]["DocID"])

	require.NoError(t, (&cmdViewsQuery{Name: "app/by_type", Query: `reduce=true`, Format: "json"}).Execute(nil))
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	out.Reset()
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0]["Value"])

	require.NoError(t, (&cmdViewsList{}).Execute(nil))
	assert.Contains(t, out.String(), "app/by_type")
	out.Reset()

	require.NoError(t, (&cmdViewsDelete{Name: "app/by_type"}).Execute(nil))
	assert.Error(t, (&cmdViewsDelete{Name: "app/by_type"}).Execute(nil))

	require.NoError(t, (&cmdCompact{}).Execute(nil))
	assert.Contains(t, out.String(), "removed")
	out.Reset()

	require.NoError(t, (&cmdInfo{Metrics: true}).Execute(nil))
	assert.Contains(t, out.String(), "Documents")
	assert.Contains(t, out.String(), "docdb_transactions_total")
	assert.Contains(t, out.String(), "status=committed")
}

func TestMatchField(t *testing.T) {
	var doc = design.Doc{
		Revision:   &revision.Revision{DocID: "d"},
		Properties: map[string]interface{}{"type": "widget", "n": 3.0},
	}
	assert.True(t, matchField(doc, map[string]interface{}{"field": "type", "value": "widget"}))
	assert.True(t, matchField(doc, map[string]interface{}{"field": "n", "value": 3.0}))
	assert.False(t, matchField(doc, map[string]interface{}{"field": "type", "value": "gadget"}))
	assert.False(t, matchField(doc, map[string]interface{}{"field": "missing", "value": "x"}))
	assert.False(t, matchField(doc, map[string]interface{}{"value": "widget"}))
}

func TestParseParams(t *testing.T) {
	var params, err = parseParams([]string{"a=1", "b=text", `c={"d":true}`, "e="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"a": 1.0,
		"b": "text",
		"c": map[string]interface{}{"d": true},
		"e": "",
	}, params)

	_, err = parseParams([]string{"=1"})
	assert.EqualError(t, err, `invalid parameter "=1" (expected key=value)`)
}

func TestJSONCompatible(t *testing.T) {
	var in = map[interface{}]interface{}{
		"a": []interface{}{map[interface{}]interface{}{1: "one"}},
		"b": true,
	}
	assert.Equal(t, map[string]interface{}{
		"a": []interface{}{map[string]interface{}{"1": "one"}},
		"b": true,
	}, jsonCompatible(in))
}

func setupConfig(t *testing.T) *bytes.Buffer {
	var dir = t.TempDir()
	var out = new(bytes.Buffer)

	var prevOutput, prevConfig = Output, *Config
	t.Cleanup(func() { Output, *Config = prevOutput, prevConfig })

	Output = out
	Config.Log = mbp.LogConfig{Level: "warn", Format: "text"}
	Config.Database = mbp.DatabaseConfig{
		Dialect:     "sqlite",
		DSN:         filepath.Join(dir, "docdb.sqlite"),
		BlobDir:     filepath.Join(dir, "blobs"),
		Compression: "snappy",
		FilterCache: 4,
	}
	Config.Fields = []string{"type"}

	return out
}

func decodeOutput(t *testing.T, out *bytes.Buffer) map[string]interface{} {
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &m))
	out.Reset()
	return m
}
