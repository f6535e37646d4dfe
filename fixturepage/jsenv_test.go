package fixturepage

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

// fakeEnv provides virtual timers, a recording map and the few browser
// globals the generated scripts touch.
const fakeEnv = `
var rcNow = 0, rcNextTimer = 1, rcTimers = [];
function setTimeout(fn, ms) {
  var id = rcNextTimer++;
  rcTimers.push({ id: id, at: rcNow + (ms || 0), fn: fn });
  return id;
}
function clearTimeout(id) {
  rcTimers = rcTimers.filter(function (t) { return t.id !== id; });
}
function rcAdvance() {
  if (rcTimers.length === 0) return false;
  rcTimers.sort(function (a, b) { return a.at - b.at || a.id - b.id; });
  var t = rcTimers.shift();
  rcNow = t.at;
  t.fn();
  return true;
}

function Image() { this.src = ''; }
Image.prototype.decode = function () { return Promise.resolve(); };

function FakeMap() {
  this.calls = [];
  this.listeners = {};
  this.repaint = true;
  this.isLoaded = true;
}
FakeMap.prototype.record = function (name, args) {
  this.calls.push([name, rcNow].concat(Array.prototype.slice.call(args)));
};
FakeMap.prototype.on = function (name, fn) {
  (this.listeners[name] = this.listeners[name] || []).push({ fn: fn, once: false });
  return this;
};
FakeMap.prototype.once = function (name, fn) {
  var self = this;
  if (!fn) {
    return new Promise(function (resolve) { self.once(name, resolve); });
  }
  (this.listeners[name] = this.listeners[name] || []).push({ fn: fn, once: true });
  return this;
};
FakeMap.prototype.off = function (name, fn) {
  this.listeners[name] = (this.listeners[name] || []).filter(function (l) { return l.fn !== fn; });
  return this;
};
FakeMap.prototype.fire = function (name) {
  var ls = (this.listeners[name] || []).slice();
  this.listeners[name] = ls.filter(function (l) { return !l.once; });
  ls.forEach(function (l) { l.fn({ type: name }); });
};
FakeMap.prototype.listenerCount = function (name) { return (this.listeners[name] || []).length; };
FakeMap.prototype.loaded = function () { return this.isLoaded; };
FakeMap.prototype._render = function () { this.record('_render', arguments); };
FakeMap.prototype.setPaintProperty = function () { this.record('setPaintProperty', arguments); };
FakeMap.prototype.setStyle = function () { this.record('setStyle', arguments); };
FakeMap.prototype.addImage = function () { this.record('addImage', arguments); };
FakeMap.prototype.addLayer = function () { this.record('addLayer', arguments); };
FakeMap.prototype.dangerous = function () { this.record('dangerous', arguments); };
`

type jsEnv struct {
	vm       *goja.Runtime
	logs     []string
	warnings []string
	errors   []string
}

func newJSEnv(t *testing.T) *jsEnv {
	t.Helper()
	env := &jsEnv{vm: goja.New()}
	console := env.vm.NewObject()
	collect := func(dst *[]string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			*dst = append(*dst, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	require.NoError(t, console.Set("log", collect(&env.logs)))
	require.NoError(t, console.Set("warn", collect(&env.warnings)))
	require.NoError(t, console.Set("error", collect(&env.errors)))
	require.NoError(t, env.vm.Set("console", console))
	require.NoError(t, env.vm.Set("window", env.vm.GlobalObject()))
	env.run(t, fakeEnv)
	return env
}

func (e *jsEnv) run(t *testing.T, src string) goja.Value {
	t.Helper()
	v, err := e.vm.RunString(src)
	require.NoError(t, err)
	return v
}

// drain fires pending timers in virtual time order until none remain.
// Promise jobs settle after every RunString.
func (e *jsEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		if !e.run(t, "rcAdvance()").ToBoolean() {
			return
		}
	}
	t.Fatal("timers did not settle")
}

func (e *jsEnv) json(t *testing.T, expr string) string {
	t.Helper()
	return e.run(t, fmt.Sprintf("JSON.stringify(%s)", expr)).String()
}
