package workflow

import "fmt"

// MaxRepairs bounds the repair loop. It is fixed for every run.
const MaxRepairs = 2

// Guard expressions are CEL over the `state` variable built by State.Vars.
var (
	GuardRouteSQL    = `state.route == "sql"`
	GuardRouteHybrid = `state.route == "hybrid"`
	GuardNeedsRepair = fmt.Sprintf(`state.is_sql_error && state.repair_steps < %d`, MaxRepairs)
)
