// Package semconv defines the attribute keys tendril emits on top of the
// standard OpenTelemetry semantic conventions. The literal strings are a wire
// contract: collectors, dashboards and alerts key on them, so renaming one is
// a breaking change for every downstream consumer.
package semconv

import "go.opentelemetry.io/otel/attribute"

const (
	// CIPipelineIDKey identifies the pipeline definition (the job), shared by
	// every run of it.
	CIPipelineIDKey = attribute.Key("ci.pipeline.id")

	// CIPipelineRunIDKey identifies one execution of a pipeline.
	CIPipelineRunIDKey = attribute.Key("ci.pipeline.run.id")

	// CIPipelineStepIDKey is the host engine's stable identifier for an
	// execution node. Display names are not unique; this is.
	CIPipelineStepIDKey = attribute.Key("ci.pipeline.step.id")

	// CIPipelineStepNameKey is the human-readable function name of a step.
	CIPipelineStepNameKey = attribute.Key("ci.pipeline.step.name")

	// CIPipelineBranchNameKey is the label of a parallel branch.
	CIPipelineBranchNameKey = attribute.Key("ci.pipeline.parallel.branch.name")

	// CIPipelineAgentLabelKey is the agent label a node step requested.
	CIPipelineAgentLabelKey = attribute.Key("ci.pipeline.agent.label")

	// GitRepositoryKey is the normalized repository path of a checkout step,
	// without leading slash or ".git" suffix (e.g. "open-telemetry/opentelemetry-java").
	GitRepositoryKey = attribute.Key("git.repository")

	// GitBranchKey is the branch a checkout step targets, when declared.
	GitBranchKey = attribute.Key("git.branch")

	// ServiceBaseURLKey is a resource attribute carrying the public base URL
	// of the observed host, so traces link back to it.
	ServiceBaseURLKey = attribute.Key("service.base.url")
)

// CIPipelineID returns the ci.pipeline.id attribute.
func CIPipelineID(id string) attribute.KeyValue {
	return CIPipelineIDKey.String(id)
}

// CIPipelineRunID returns the ci.pipeline.run.id attribute.
func CIPipelineRunID(id string) attribute.KeyValue {
	return CIPipelineRunIDKey.String(id)
}

// CIPipelineStepID returns the ci.pipeline.step.id attribute.
func CIPipelineStepID(id string) attribute.KeyValue {
	return CIPipelineStepIDKey.String(id)
}

// CIPipelineStepName returns the ci.pipeline.step.name attribute.
func CIPipelineStepName(name string) attribute.KeyValue {
	return CIPipelineStepNameKey.String(name)
}

// CIPipelineBranchName returns the ci.pipeline.parallel.branch.name attribute.
func CIPipelineBranchName(name string) attribute.KeyValue {
	return CIPipelineBranchNameKey.String(name)
}

// CIPipelineAgentLabel returns the ci.pipeline.agent.label attribute.
func CIPipelineAgentLabel(label string) attribute.KeyValue {
	return CIPipelineAgentLabelKey.String(label)
}

// GitRepository returns the git.repository attribute.
func GitRepository(repo string) attribute.KeyValue {
	return GitRepositoryKey.String(repo)
}

// GitBranch returns the git.branch attribute.
func GitBranch(branch string) attribute.KeyValue {
	return GitBranchKey.String(branch)
}
