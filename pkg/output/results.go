package output

import (
	"context"
	"time"

	"github.com/3leaps/pipecheck/pkg/requirement"
)

// Summarize tallies a snapshot into a summary record.
func Summarize(steps []requirement.StepRequirements, snap requirement.Snapshot, elapsed time.Duration) *SummaryRecord {
	sum := &SummaryRecord{
		Steps:         len(steps),
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}
	for _, key := range snap.Keys {
		st := snap.Status(key)
		if st == requirement.StatusSkipping {
			sum.StepsSkipped++
			continue
		}
		sum.Requirements++
		switch st {
		case requirement.StatusSuccess:
			sum.Success++
		case requirement.StatusError:
			sum.Failed++
		case requirement.StatusIfSkipped:
			sum.IfSkipped++
		default:
			sum.Unfinished++
		}
	}
	sum.Passed = sum.Failed == 0 && sum.Unfinished == 0
	return sum
}

// WriteResults emits one record per tracked key, in submission order,
// followed by the summary.
func WriteResults(ctx context.Context, w Writer, steps []requirement.StepRequirements, snap requirement.Snapshot, elapsed time.Duration) error {
	byStep := make(map[string]requirement.StepRequirements, len(steps))
	for _, s := range steps {
		byStep[s.Step] = s
	}

	for _, key := range snap.Keys {
		stepName, name := requirement.SplitKey(key)
		step := byStep[stepName]

		if name == "" {
			if err := w.WriteStep(ctx, &StepRecord{
				Step:    stepName,
				Summary: step.Summary,
				Status:  snap.Status(key),
			}); err != nil {
				return err
			}
			continue
		}

		req, _ := step.Lookup(name)
		if err := w.WriteRequirement(ctx, &RequirementRecord{
			Step:      stepName,
			Name:      name,
			Status:    snap.Status(key),
			Message:   req.Message,
			Check:     req.Check,
			Condition: req.Condition,
			Error:     snap.Errors[key],
		}); err != nil {
			return err
		}
	}

	return w.WriteSummary(ctx, Summarize(steps, snap, elapsed))
}

// WritePlan emits one plan record per step.
func WritePlan(ctx context.Context, w Writer, steps []requirement.StepRequirements) error {
	for _, s := range steps {
		reqs := s.Requirements
		if reqs == nil {
			reqs = []requirement.Requirement{}
		}
		if err := w.WritePlan(ctx, &PlanRecord{Step: s.Step, Summary: s.Summary, Requirements: reqs}); err != nil {
			return err
		}
	}
	return nil
}
