package workflow

import (
	"time"

	"maestro/pkg/models"
)

// builtinTemplates returns the workflow definitions that ship with the
// engine. They are registered under fixed IDs so callers can execute them
// without creating a definition first.
func builtinTemplates() []models.Workflow {
	return []models.Workflow{featureDevelopmentTemplate()}
}

// featureDevelopmentTemplate is the standard design, implement, test,
// review, document pipeline. Review and documentation both wait on the
// test stage, and documentation additionally waits on review so docs
// reflect the reviewed code.
func featureDevelopmentTemplate() models.Workflow {
	retry := &models.RetryPolicy{
		MaxRetries: 2,
		Backoff:    5 * time.Second,
	}
	return models.Workflow{
		ID:          "feature-development",
		Name:        "Feature Development",
		Version:     "1.0.0",
		Description: "Design, implement, test, review, and document a feature",
		Steps: []models.Step{
			{
				ID:       "design",
				Name:     "Design the feature",
				Type:     models.StepTypeRole,
				Role:     "architect",
				TaskType: "design",
			},
			{
				ID:           "implement",
				Name:         "Implement the feature",
				Type:         models.StepTypeRole,
				Role:         "developer",
				TaskType:     "implementation",
				Dependencies: []string{"design"},
				Retry:        retry,
			},
			{
				ID:           "test",
				Name:         "Test the feature",
				Type:         models.StepTypeRole,
				Role:         "tester",
				TaskType:     "testing",
				Dependencies: []string{"implement"},
				Retry:        retry,
			},
			{
				ID:           "review",
				Name:         "Review the implementation",
				Type:         models.StepTypeRole,
				Role:         "reviewer",
				TaskType:     "review",
				Dependencies: []string{"test"},
			},
			{
				ID:           "document",
				Name:         "Document the feature",
				Type:         models.StepTypeRole,
				Role:         "writer",
				TaskType:     "documentation",
				Dependencies: []string{"test", "review"},
			},
		},
	}
}
