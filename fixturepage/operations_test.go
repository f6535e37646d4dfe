package fixturepage

import (
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/rendercheck/fixture"
)

func startOperations(t *testing.T, env *jsEnv, opsJSON string) {
	t.Helper()
	env.run(t, OperationsScript(ScriptOptions{
		AssetBaseURL: "http://localhost:3900/assets/",
		EventTimeout: 2 * time.Second,
	}))
	env.run(t, `
var map = new FakeMap();
var done = false, failure = null;
applyOperations({ operations: `+opsJSON+` }, map).then(
  function () { done = true; },
  function (e) { failure = e.message; });
`)
}

func TestOperationsScript_Compiles(t *testing.T) {
	_, err := goja.Compile("operations.js", OperationsScript(ScriptOptions{}), false)
	require.NoError(t, err)
	assert.Contains(t, OperationsScript(ScriptOptions{}), "const rcEventTimeout = 7000;")
}

func TestApplyOperations_WaitThenPaintProperty(t *testing.T) {
	env := newJSEnv(t)
	startOperations(t, env, `[["wait", 500], ["setPaintProperty", "layer", "circle-color", "#ff0000"]]`)
	assert.False(t, env.run(t, "done").ToBoolean(), "must suspend on the wait")

	env.drain(t)
	assert.True(t, env.run(t, "done").ToBoolean())
	assert.Equal(t,
		`[["_render",500],["setPaintProperty",500,"layer","circle-color","#ff0000"]]`,
		env.json(t, "map.calls"))
	require.Len(t, env.logs, 2)
	assert.Equal(t, `Running operation: ["wait",500]`, env.logs[0])
}

func TestApplyOperations_WaitForEvent(t *testing.T) {
	env := newJSEnv(t)
	startOperations(t, env, `[["wait", "data"], ["sleep", 30], ["setPaintProperty", "l", "p", 1]]`)
	env.run(t, `setTimeout(function () { map.fire('data'); }, 100);`)
	env.drain(t)

	assert.True(t, env.run(t, "done").ToBoolean())
	assert.Equal(t, `[["setPaintProperty",130,"l","p",1]]`, env.json(t, "map.calls"))
	assert.Equal(t, int64(0), env.run(t, "map.listenerCount('data')").ToInteger())
	assert.Equal(t, int64(0), env.run(t, "rcTimers.length").ToInteger(), "timeout timer cleared")
}

func TestApplyOperations_EventTimeoutDeregisters(t *testing.T) {
	env := newJSEnv(t)
	startOperations(t, env, `[["wait", "never"], ["setPaintProperty", "l", "p", 1]]`)
	env.drain(t)

	assert.False(t, env.run(t, "done").ToBoolean())
	assert.Contains(t, env.run(t, "failure").String(), `timed out after 2000ms waiting for map event "never"`)
	assert.Equal(t, int64(0), env.run(t, "map.listenerCount('never')").ToInteger())
	assert.Equal(t, "[]", env.json(t, "map.calls"), "later operations must not run")
}

func TestApplyOperations_WaitUntilLoaded(t *testing.T) {
	env := newJSEnv(t)
	env.run(t, OperationsScript(ScriptOptions{EventTimeout: 2 * time.Second}))
	env.run(t, `
var map = new FakeMap();
map.isLoaded = false;
var done = false;
setTimeout(function () { map.fire('render'); }, 40);
setTimeout(function () { map.isLoaded = true; map.fire('render'); }, 60);
applyOperations({ operations: [["wait"], ["setPaintProperty", "l", "p", 2]] }, map).then(function () { done = true; });
`)
	env.drain(t)

	assert.True(t, env.run(t, "done").ToBoolean())
	assert.Equal(t, `[["setPaintProperty",60,"l","p",2]]`, env.json(t, "map.calls"))
	assert.Equal(t, int64(0), env.run(t, "map.listenerCount('render')").ToInteger())
}

func TestApplyOperations_Idle(t *testing.T) {
	env := newJSEnv(t)
	startOperations(t, env, `[["idle"], ["setPaintProperty", "l", "p", 3]]`)
	env.run(t, `setTimeout(function () { map.fire('idle'); }, 25);`)
	env.drain(t)

	assert.True(t, env.run(t, "done").ToBoolean())
	assert.False(t, env.run(t, "map.repaint").ToBoolean())
	assert.Equal(t, `[["setPaintProperty",25,"l","p",3]]`, env.json(t, "map.calls"))
}

func TestApplyOperations_AddImageAndSetStyle(t *testing.T) {
	env := newJSEnv(t)
	startOperations(t, env, `[["addImage", "marker", "sprites/marker.png", {"sdf": true}], ["setStyle", {"version": 8}]]`)
	env.drain(t)

	assert.True(t, env.run(t, "done").ToBoolean())
	assert.Equal(t, "marker", env.run(t, "map.calls[0][2]").String())
	assert.Equal(t, "http://localhost:3900/assets/sprites/marker.png", env.run(t, "map.calls[0][3].src").String())
	assert.Equal(t, `{"sdf":true}`, env.json(t, "map.calls[0][4]"))
	assert.Equal(t, `["setStyle",0,{"version":8},{"localIdeographFontFamily":false}]`, env.json(t, "map.calls[1]"))
}

func TestApplyOperations_CustomLayers(t *testing.T) {
	env := newJSEnv(t)
	env.run(t, `window.__customLayerImplementations = { tent: function () { this.id = 'tent'; } };`)
	startOperations(t, env, `[["addCustomLayer", "missing"], ["addCustomLayer", "tent", "below"]]`)
	env.drain(t)

	assert.True(t, env.run(t, "done").ToBoolean())
	assert.Equal(t, `[["addLayer",0,{"id":"tent"},"below"],["_render",0]]`, env.json(t, "map.calls"))
	require.Len(t, env.warnings, 1)
	assert.Contains(t, env.warnings[0], `custom layer "missing"`)
}

func TestApplyOperations_UnknownVerbsAreLoggedNotInvoked(t *testing.T) {
	env := newJSEnv(t)
	startOperations(t, env, `[["dangerous", 1], ["nonexistent"], ["setPaintProperty", "l", "p", 4]]`)
	env.drain(t)

	assert.True(t, env.run(t, "done").ToBoolean())
	assert.Equal(t, `[["setPaintProperty",0,"l","p",4]]`, env.json(t, "map.calls"))
	require.Len(t, env.warnings, 2)
	assert.True(t, strings.HasPrefix(env.warnings[0], `unknown operation "dangerous"`))
}

func TestValidateOperations(t *testing.T) {
	ops := []fixture.Operation{
		{"wait"}, {"setPaintProperty", "l", "p", 1}, {"dangerous"}, {}, {"addCustomLayer", "x"},
	}
	assert.Equal(t, []string{"dangerous", "<empty>"}, ValidateOperations(ops))
	assert.Empty(t, ValidateOperations(nil))
}
