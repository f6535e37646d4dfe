// CLAUDE:SUMMARY Generates the in-page applyOperations() procedure: verb dispatch table, allow-listed generic invoke, event waits with timeouts.
package fixturepage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/rendercheck/fixture"
)

// DefaultEventTimeout bounds every in-page wait on a map event.
const DefaultEventTimeout = 7 * time.Second

// Verbs with dedicated handlers in the generated procedure.
var Verbs = []string{"wait", "idle", "sleep", "addImage", "addCustomLayer", "setStyle"}

// InvokableMethods are the map methods a fixture may call by name. Anything
// else is logged and skipped in the page.
var InvokableMethods = []string{
	"addLayer", "addSource", "addSprite", "easeTo", "fitBounds", "flyTo",
	"jumpTo", "moveLayer", "panBy", "panTo", "removeFeatureState",
	"removeImage", "removeLayer", "removeSource", "removeSprite", "resize",
	"rotateTo", "setBearing", "setCenter", "setCenterClampedToGround",
	"setCenterElevation", "setFeatureState", "setFilter", "setGlobalStateProperty",
	"setGlyphs", "setLayerZoomRange", "setLayoutProperty", "setLight",
	"setMaxBounds", "setMaxPitch", "setMaxZoom", "setMinPitch", "setMinZoom",
	"setPadding", "setPaintProperty", "setPitch", "setPixelRatio",
	"setProjection", "setRenderWorldCopies", "setRoll", "setSky", "setSprite",
	"setTerrain", "setTransformRequest", "setVerticalFieldOfView", "setZoom",
	"stop", "triggerRepaint", "updateImage", "zoomTo",
}

// ScriptOptions parameterises the generated procedure.
type ScriptOptions struct {
	// AssetBaseURL prefixes addImage paths, e.g. http://localhost:3900/assets/.
	AssetBaseURL string
	// EventTimeout bounds each wait on a map event. Default: DefaultEventTimeout.
	EventTimeout time.Duration
}

// ValidateOperations returns the verbs the page will skip: neither a
// dedicated verb nor an invokable map method.
func ValidateOperations(ops []fixture.Operation) []string {
	known := make(map[string]bool, len(Verbs)+len(InvokableMethods))
	for _, v := range Verbs {
		known[v] = true
	}
	for _, v := range InvokableMethods {
		known[v] = true
	}
	var unknown []string
	for _, op := range ops {
		if v := op.Verb(); !known[v] {
			unknown = append(unknown, fmt.Sprintf("%v", opHead(op)))
		}
	}
	return unknown
}

func opHead(op fixture.Operation) any {
	if len(op) == 0 {
		return "<empty>"
	}
	return op[0]
}

// LogUnknown warns about operations the page will skip.
func LogUnknown(logger *slog.Logger, id string, ops []fixture.Operation) {
	if unknown := ValidateOperations(ops); len(unknown) > 0 {
		logger.Warn("fixturepage: unknown operations will be skipped", "id", id, "verbs", unknown)
	}
}

// OperationsScript returns the JavaScript source of applyOperations(options, map).
// Operations run strictly in order; each one's await settles before the next.
func OperationsScript(opts ScriptOptions) string {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = DefaultEventTimeout
	}
	invokable, _ := json.Marshal(InvokableMethods)
	assetBase, _ := json.Marshal(opts.AssetBaseURL)

	r := strings.NewReplacer(
		"__INVOKABLE__", string(invokable),
		"__ASSET_BASE__", string(assetBase),
		"__EVENT_TIMEOUT__", fmt.Sprint(opts.EventTimeout.Milliseconds()),
	)
	return r.Replace(operationsTemplate)
}

const operationsTemplate = `
const rcInvokable = new Set(__INVOKABLE__);
const rcAssetBase = __ASSET_BASE__;
const rcEventTimeout = __EVENT_TIMEOUT__;

function rcSleep(ms) {
  return new Promise(function (resolve) { setTimeout(resolve, ms); });
}

// Resolves on the first occurrence of the event. On timeout the listener is
// removed so it cannot fire into a later operation.
function rcOnceEvent(map, name, ms) {
  return new Promise(function (resolve, reject) {
    let done = false;
    const handler = function (e) {
      if (done) return;
      done = true;
      clearTimeout(timer);
      resolve(e);
    };
    const timer = setTimeout(function () {
      if (done) return;
      done = true;
      map.off(name, handler);
      reject(new Error('timed out after ' + ms + 'ms waiting for map event "' + name + '"'));
    }, ms);
    map.once(name, handler);
  });
}

const rcHandlers = {
  wait: async function (map, op) {
    if (op.length <= 1) {
      while (!map.loaded()) {
        await rcOnceEvent(map, 'render', rcEventTimeout);
      }
    } else if (typeof op[1] === 'string') {
      await rcOnceEvent(map, op[1], rcEventTimeout);
    } else {
      await rcSleep(op[1]);
      map._render();
    }
  },

  idle: async function (map, op, state) {
    map.repaint = false;
    if (!state.idle) {
      await rcOnceEvent(map, 'idle', rcEventTimeout);
    }
  },

  sleep: async function (map, op) {
    await rcSleep(op[1]);
  },

  addImage: async function (map, op) {
    const img = new Image();
    img.crossOrigin = 'anonymous';
    img.src = rcAssetBase + op[2];
    await img.decode();
    map.addImage(op[1], img, op[3] || {});
  },

  addCustomLayer: async function (map, op) {
    const registry = window.__customLayerImplementations || {};
    const Impl = registry[op[1]];
    if (!Impl) {
      console.warn('custom layer "' + op[1] + '" is not registered, skipped');
      return;
    }
    map.addLayer(new Impl(), op[2]);
    map._render();
  },

  setStyle: async function (map, op) {
    map.setStyle(op[1], { localIdeographFontFamily: false });
  }
};

async function applyOperations(options, map) {
  const operations = options.operations || [];
  if (operations.length === 0) return;

  const state = { idle: false };
  map.on('idle', function () { state.idle = true; });

  for (const op of operations) {
    console.log('Running operation: ' + JSON.stringify(op));
    const verb = op[0];
    const handler = Object.prototype.hasOwnProperty.call(rcHandlers, verb) ? rcHandlers[verb] : null;
    if (handler) {
      await handler(map, op, state);
    } else if (rcInvokable.has(verb) && typeof map[verb] === 'function') {
      map[verb].apply(map, op.slice(1));
    } else {
      console.warn('unknown operation ' + JSON.stringify(verb) + ', skipped');
    }
  }
}
`
