package pipeline

import "context"

// Stage is one unit of batch work. Run returns the number of records processed.
type Stage interface {
	Name() string
	Run(ctx context.Context) (int64, error)
}

// StageFunc adapts a function to a named Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context) (int64, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context) (int64, error) { return s.Fn(ctx) }

// Stage names.
const (
	StageDedup   = "dedup"
	StageRollup  = "rollup"
	StageQuality = "quality"
)
