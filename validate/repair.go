package validate

import (
	"strings"

	"github.com/jonwraymond/scriptgen/script"
)

// RepairSentinel marks the structural return patch. Its presence makes
// re-application a no-op.
const RepairSentinel = "/* scriptgen:ensure-return */"

// RepairNote is recorded on descriptors whose code was patched.
const RepairNote = "auto-repair: appended a structural patch so the entry point returns a value"

// EnsureReturn appends a structural patch when the candidate has no
// return statement: the patch intercepts the exported entry point, awaits
// the original, and coerces an undefined result to an empty value. The
// second return reports whether the patch was applied. Best-effort
// salvage only — the repair loop still prefers a genuinely correct
// candidate.
func EnsureReturn(code string) (string, bool) {
	if strings.Contains(code, RepairSentinel) {
		return code, false
	}
	if returnPattern.MatchString(code) {
		return code, false
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(code, "\n"))
	b.WriteString("\n\n")
	b.WriteString(RepairSentinel)
	b.WriteString(`
(function () {
  var __original = (typeof module.exports === 'function')
    ? module.exports
    : (module.exports && module.exports.` + script.EntrypointName + `);
  if (typeof __original !== 'function') { return; }
  var __wrapped = async function ` + script.EntrypointName + `(input) {
    var __result = await __original(input);
    return __result === undefined ? '' : __result;
  };
  if (typeof module.exports === 'function') {
    module.exports = __wrapped;
  } else {
    module.exports.` + script.EntrypointName + ` = __wrapped;
  }
})();
`)
	return b.String(), true
}
