package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

// WorkflowNotifier starts a Cloud Workflows execution for every finished conversion.
type WorkflowNotifier struct {
	executionsClient *executions.Client
	parent           string
}

// NewWorkflowNotifier creates an executions client for one workflow.
func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID string) (*WorkflowNotifier, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowNotifier: projectID, location and workflowID cannot be empty")
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{
		executionsClient: executionsClient,
		parent:           fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}, nil
}

// Notify passes the completed conversion to the workflow as its argument.
func (n *WorkflowNotifier) Notify(ctx context.Context, event models.ConversionCompletedEvent) error {
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := n.executionsClient.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}

func (n *WorkflowNotifier) Close() error {
	return n.executionsClient.Close()
}
