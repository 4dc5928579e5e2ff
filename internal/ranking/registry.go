package ranking

import (
	"context"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// New builds the strategy for id. Zero-valued hyper-parameters in p fall
// back to DefaultParams.
func New(id ID, p Params) (Strategy, error) {
	p = p.withDefaults()
	switch id {
	case ANOVA:
		return anova{}, nil
	case Lasso:
		return lasso{p: p.Lasso}, nil
	case RandomForest:
		return forest{p: p.Forest, seed: p.Seed, workers: p.Workers}, nil
	case RFESVM:
		return rfe{p: p.RFE, seed: p.Seed}, nil
	case Ridge:
		return ridge{p: p.Ridge, seed: p.Seed}, nil
	case MLP:
		return mlp{p: p.MLP, seed: p.Seed, workers: p.Workers}, nil
	case SHAPBoost:
		return boost{p: p.Boost, seed: p.Seed}, nil
	case Baseline:
		return baseline{}, nil
	}
	return nil, &Error{Strategy: id, Err: ErrUnknownStrategy}
}

// Run builds the strategy for id and ranks ds with it.
func Run(ctx context.Context, id ID, p Params, ds *dataset.Dataset) (Ranking, error) {
	s, err := New(id, p)
	if err != nil {
		return nil, err
	}
	return s.Rank(ctx, ds)
}
