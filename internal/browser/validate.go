package browser

import (
	"github.com/roambrowse/roam/internal/fault"
	"github.com/roambrowse/roam/internal/models"
)

// validateParams checks the opaque parameter payload against the command
// type at dispatch time. Unknown types fail with the unsupported kind;
// shape problems fail invalid_argument.
func validateParams(cmdType models.CommandType, params map[string]any) error {
	has := func(key string) bool {
		if params == nil {
			return false
		}
		v, ok := params[key]
		if !ok {
			return false
		}
		if s, isStr := v.(string); isStr {
			return s != ""
		}
		return true
	}

	switch cmdType {
	case models.CmdNavigate:
		if !has("url") {
			return fault.InvalidArgument("navigate requires a url parameter")
		}
	case models.CmdClick:
		if !has("selector") && !(has("x") && has("y")) {
			return fault.InvalidArgument("click requires a selector or x/y coordinates")
		}
	case models.CmdTypeText:
		if !has("selector") {
			return fault.InvalidArgument("type requires a selector parameter")
		}
	case models.CmdExecute:
		if !has("script") {
			return fault.InvalidArgument("execute requires a script parameter")
		}
	case models.CmdScroll:
		if !has("direction") && !has("x") && !has("y") {
			return fault.InvalidArgument("scroll requires a direction or x/y offsets")
		}
	case models.CmdScreenshot:
		// no required parameters
	default:
		return fault.New(fault.KindUnsupportedCommand, "unsupported command type %q", cmdType)
	}
	return nil
}
