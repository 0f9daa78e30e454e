package refillagent

import (
	"reflect"

	"github.com/c360studio/semstreams/service"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/escalation"
	"github.com/c360studio/rxpilot/refill"
)

func init() {
	service.RegisterOpenAPISpec("refill-agent", refillAgentOpenAPISpec())
}

// OpenAPISpec implements the OpenAPIProvider interface.
func (c *Component) OpenAPISpec() *service.OpenAPISpec {
	return refillAgentOpenAPISpec()
}

// refillAgentOpenAPISpec returns the OpenAPI specification for refill-agent endpoints.
func refillAgentOpenAPISpec() *service.OpenAPISpec {
	sessionParam := service.ParameterSpec{
		Name:        "id",
		In:          "path",
		Required:    true,
		Description: "Session identifier",
		Schema:      service.Schema{Type: "string"},
	}
	orderParam := service.ParameterSpec{
		Name:        "id",
		In:          "path",
		Required:    true,
		Description: "Order identifier",
		Schema:      service.Schema{Type: "string"},
	}

	return &service.OpenAPISpec{
		Tags: []service.TagSpec{
			{Name: "Turns", Description: "Conversation turns - run patient messages through the refill state machine"},
			{Name: "Sessions", Description: "Session inspection and reset for active refill conversations"},
			{Name: "Orders", Description: "Submitted refill orders - listing and tracking"},
			{Name: "Health", Description: "Liveness and metrics"},
		},
		Paths: map[string]service.PathSpec{
			"/api/rxpilot/turns": {
				POST: &service.OperationSpec{
					Summary:     "Run a conversation turn",
					Description: "Runs one patient message through the refill conversation and returns the resulting state, reply, and any escalation or submitted order",
					Tags:        []string{"Turns"},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Turn result with reply and conversation state",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/TurnResult",
						},
						"400": {Description: "Invalid request (missing patient_id or text)"},
					},
				},
			},
			"/api/rxpilot/sessions": {
				GET: &service.OperationSpec{
					Summary:     "List sessions",
					Description: "Returns redacted summaries of all active refill sessions",
					Tags:        []string{"Sessions"},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Active session summaries",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/SessionListResponse",
						},
					},
				},
			},
			"/api/rxpilot/sessions/{id}": {
				GET: &service.OperationSpec{
					Summary:     "Get session",
					Description: "Returns the redacted summary of one session",
					Tags:        []string{"Sessions"},
					Parameters:  []service.ParameterSpec{sessionParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Session summary",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/Summary",
						},
						"404": {Description: "Session not found"},
					},
				},
				DELETE: &service.OperationSpec{
					Summary:     "Reset session",
					Description: "Returns the conversation to the start state, discarding collected medication, dosage, and pharmacy choices. The session stays alive",
					Tags:        []string{"Sessions"},
					Parameters:  []service.ParameterSpec{sessionParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Summary of the reset session",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/Summary",
						},
						"404": {Description: "Session not found"},
					},
				},
			},
			"/api/rxpilot/orders": {
				GET: &service.OperationSpec{
					Summary:     "List orders",
					Description: "Returns submitted refill orders, newest first",
					Tags:        []string{"Orders"},
					Parameters: []service.ParameterSpec{
						{
							Name:        "patient_id",
							In:          "query",
							Description: "Restrict to one patient's orders",
							Schema:      service.Schema{Type: "string"},
						},
					},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Submitted orders",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/OrderListResponse",
						},
					},
				},
			},
			"/api/rxpilot/orders/{id}": {
				GET: &service.OperationSpec{
					Summary:     "Track order",
					Description: "Returns one order with its current status and estimated ready time",
					Tags:        []string{"Orders"},
					Parameters:  []service.ParameterSpec{orderParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Order record",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/OrderRecord",
						},
						"404": {Description: "Order not found"},
					},
				},
			},
			"/api/rxpilot/healthz": {
				GET: &service.OperationSpec{
					Summary:     "Health check",
					Description: "Reports component liveness with active session and catalog counts",
					Tags:        []string{"Health"},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Component healthy",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/HealthResponse",
						},
						"503": {Description: "Component stopped"},
					},
				},
			},
			"/api/rxpilot/metrics": {
				GET: &service.OperationSpec{
					Summary:     "Prometheus metrics",
					Description: "Exposes turn, transition, escalation, and order counters in Prometheus text exposition format",
					Tags:        []string{"Health"},
					Responses: map[string]service.ResponseSpec{
						"200": {Description: "Metrics in Prometheus text exposition format"},
					},
				},
			},
		},
		ResponseTypes: []reflect.Type{
			reflect.TypeOf(TurnBody{}),
			reflect.TypeOf(SessionListResponse{}),
			reflect.TypeOf(OrderListResponse{}),
			reflect.TypeOf(HealthResponse{}),
			reflect.TypeOf(refill.TurnResult{}),
			reflect.TypeOf(refill.TransitionStep{}),
			reflect.TypeOf(refill.Summary{}),
			reflect.TypeOf(refill.OrderDetails{}),
			reflect.TypeOf(refill.State("")),
			reflect.TypeOf(escalation.Result{}),
			reflect.TypeOf(erx.OrderRecord{}),
		},
	}
}
