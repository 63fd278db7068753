package stage

import "context"

// Pipeline stage names. They key gates, job registry records, status
// documents, and lock files.
const (
	Intake     = "intake"
	Normalizer = "normalizer"
	Router     = "router"
	Committer  = "committer"
)

// Names returns every stage in pipeline order.
func Names() []string {
	return []string{Intake, Normalizer, Router, Committer}
}

// Known reports whether name is a pipeline stage.
func Known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Handler describes the contract the workflow scheduler needs from each
// batch stage.
type Handler interface {
	Name() string
	Run(context.Context) error
	HealthCheck(context.Context) Health
}
