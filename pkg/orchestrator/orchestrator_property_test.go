package orchestrator

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/ledgerclient"
)

// Property: with abort-on-failure, a Failed outcome at index k means no
// outcome exists past k, and outcomes are contiguous from index 0.
func TestAbortPrefixProperty(t *testing.T) {
	signer := newSigner(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	parameters.MaxSize = 8
	properties := gopter.NewProperties(parameters)

	properties.Property("nothing is attempted after the first failure", prop.ForAll(
		func(fails []bool) bool {
			if len(fails) == 0 {
				return true
			}
			errs := make([]error, len(fails))
			firstFail := -1
			for i, f := range fails {
				if f {
					errs[i] = ledgerclient.ErrSimulationFailed
					if firstFail < 0 {
						firstFail = i
					}
				}
			}
			ledger := ledgerclient.NewMemory().FailSubmits(errs...)
			orch, _ := newOrchestrator(ledger)
			res := orch.Run(context.Background(), batchOf(t, signer, len(fails)), signer)

			for i, o := range res.Outcomes {
				if o.BatchIndex != i {
					return false
				}
				if o.Status == contracts.OutcomeFailed && i != len(res.Outcomes)-1 {
					return false
				}
			}
			if firstFail < 0 {
				return res.Success && len(res.Outcomes) == len(fails)
			}
			return !res.Success && len(res.Outcomes) == firstFail+1
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
