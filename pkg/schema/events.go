package schema

// Event type constants for the run trace.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"

	EventRouteSelected   = "route_selected"
	EventRepairAttempt   = "repair_attempt"
	EventRepairExhausted = "repair_exhausted"
	EventVisitCeiling    = "visit_ceiling_reached"
)

// Route is the execution strategy chosen for a question.
type Route string

const (
	RouteRAG    Route = "rag"
	RouteSQL    Route = "sql"
	RouteHybrid Route = "hybrid"
)

// Routes lists every valid route in a fixed order.
var Routes = []Route{RouteRAG, RouteSQL, RouteHybrid}

// Valid reports whether r is one of the three known routes.
func (r Route) Valid() bool {
	switch r {
	case RouteRAG, RouteSQL, RouteHybrid:
		return true
	}
	return false
}

// UsesSQL reports whether the route reaches query generation.
func (r Route) UsesSQL() bool {
	return r == RouteSQL || r == RouteHybrid
}
