package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, f *TableFormatter, data any) []string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, data))
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestTable_Render(t *testing.T) {
	tbl := &Table{Headers: []string{"NAME", "VALUE"}}
	tbl.AddRow("a", "1")
	tbl.AddRow("longer", "2")

	lines := render(t, &TableFormatter{}, tbl)
	require.Len(t, lines, 3)
	assert.Equal(t, "NAME    VALUE", lines[0])
	assert.Equal(t, "a       1", lines[1])

	lines = render(t, &TableFormatter{NoHeaders: true}, *tbl)
	require.Len(t, lines, 2)
	assert.Equal(t, "a       1", lines[0])
}

type record struct {
	Tool     string          `json:"tool_name"`
	Args     json.RawMessage `json:"args" table:"wide"`
	Duration time.Duration   `json:"duration"`
	Secret   string          `table:"-"`
	internal int
}

func TestTable_SliceOfStructs(t *testing.T) {
	data := []record{
		{Tool: "echo", Args: json.RawMessage(`{"a":1}`), Duration: 1500 * time.Millisecond},
		{Tool: "kv_get", Duration: time.Millisecond},
	}

	lines := render(t, &TableFormatter{}, data)
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"TOOL_NAME", "DURATION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"echo", "1.5s"}, strings.Fields(lines[1]))

	lines = render(t, &TableFormatter{Wide: true}, data)
	assert.Equal(t, []string{"TOOL_NAME", "ARGS", "DURATION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"echo", `{"a":1}`, "1.5s"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"kv_get", "-", "1ms"}, strings.Fields(lines[2]))
}

func TestTable_Struct(t *testing.T) {
	lines := render(t, &TableFormatter{}, &record{Tool: "echo"})
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"FIELD", "VALUE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"tool_name", "echo"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"duration", "0s"}, strings.Fields(lines[2]))
}

func TestTable_MapIsSorted(t *testing.T) {
	lines := render(t, &TableFormatter{}, map[string]any{"b": 2.0, "a": 1.5, "c": nil, "d": []int{1, 2}})
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"a", "1.50"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"b", "2"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"c", "-"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"d", "[2", "items]"}, strings.Fields(lines[4]))
}

func TestTable_ScalarsFallBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(&buf, 42))
	assert.Equal(t, "42\n", buf.String())

	buf.Reset()
	require.NoError(t, (&TableFormatter{}).Format(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestTable_SliceOfScalars(t *testing.T) {
	lines := render(t, &TableFormatter{}, []string{"x", ""})
	assert.Equal(t, []string{"VALUE", "x", "-"}, lines)
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "connection_id", toSnakeCase("ConnectionId"))
	assert.Equal(t, "tool", toSnakeCase("Tool"))
}
