// Package domain contains the duration-estimate contract.
package domain

import (
	"context"

	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
)

// Confidence grades how much history backs an estimate. It is advisory
// only and never changes whether an operation is authorized.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ProjectSize adjusts estimates for unusually small or large projects.
type ProjectSize string

const (
	ProjectSizeSmall ProjectSize = "small"
	ProjectSizeLarge ProjectSize = "large"
)

// OperationContext carries the caller-supplied hints that shape an
// estimate and annotate the eventual ledger row.
type OperationContext struct {
	IsUpdate    bool           `json:"is_update"`
	ProjectSize ProjectSize    `json:"project_size,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Estimate is the predicted cost of an operation before it starts.
type Estimate struct {
	OperationType    consumptiondomain.OperationType `json:"operation_type"`
	EstimatedSeconds int64                           `json:"estimated_seconds"`
	Confidence       Confidence                      `json:"confidence"`
	BasedOnSamples   int64                           `json:"based_on_samples"`
}

type Service interface {
	EstimateDuration(ctx context.Context, opType consumptiondomain.OperationType, opCtx OperationContext) (Estimate, error)
}
