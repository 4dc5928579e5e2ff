package ranking

// Params holds the hyper-parameters of every strategy. Zero values are
// replaced by DefaultParams when a strategy is built.
type Params struct {
	Seed    int64 `yaml:"seed" json:"seed"`
	Workers int   `yaml:"workers" json:"workers,omitempty"`

	Lasso  LassoParams  `yaml:"lasso" json:"lasso"`
	Forest ForestParams `yaml:"random_forest" json:"random_forest"`
	RFE    RFEParams    `yaml:"rfe_svm" json:"rfe_svm"`
	Ridge  RidgeParams  `yaml:"ridge" json:"ridge"`
	MLP    MLPParams    `yaml:"mlp" json:"mlp"`
	Boost  BoostParams  `yaml:"boost" json:"boost"`
}

type LassoParams struct {
	C        float64 `yaml:"c" json:"c"`
	MaxIter  int     `yaml:"max_iter" json:"max_iter"`
	Tol      float64 `yaml:"tol" json:"tol"`
	Balanced bool    `yaml:"balanced" json:"balanced"`
}

type ForestParams struct {
	Trees          int  `yaml:"trees" json:"trees"`
	MaxDepth       int  `yaml:"max_depth" json:"max_depth"`
	MinSamplesLeaf int  `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	MaxFeatures    int  `yaml:"max_features" json:"max_features"` // 0 means sqrt(p)
	Bootstrap      bool `yaml:"bootstrap" json:"bootstrap"`
	Balanced       bool `yaml:"balanced" json:"balanced"`
}

type RFEParams struct {
	C       float64 `yaml:"c" json:"c"`
	Step    float64 `yaml:"step" json:"step"`
	Tol     float64 `yaml:"tol" json:"tol"`
	MaxIter int     `yaml:"max_iter" json:"max_iter"`
}

type RidgeParams struct {
	Alpha     float64 `yaml:"alpha" json:"alpha"`
	Repeats   int     `yaml:"repeats" json:"repeats"`
	Subsample float64 `yaml:"subsample" json:"subsample"`
}

type MLPParams struct {
	Hidden       []int   `yaml:"hidden" json:"hidden"`
	Alpha        float64 `yaml:"alpha" json:"alpha"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	Epochs       int     `yaml:"epochs" json:"epochs"`
	Models       int     `yaml:"models" json:"models"`
	Upsample     bool    `yaml:"upsample" json:"upsample"`
}

type BoostParams struct {
	Rounds          int     `yaml:"rounds" json:"rounds"`
	MaxDepth        int     `yaml:"max_depth" json:"max_depth"`
	LearningRate    float64 `yaml:"learning_rate" json:"learning_rate"`
	Subsample       float64 `yaml:"subsample" json:"subsample"`
	Colsample       float64 `yaml:"colsample" json:"colsample"`
	Lambda          float64 `yaml:"lambda" json:"lambda"`
	AttributionRows int     `yaml:"attribution_rows" json:"attribution_rows"`
}

// DefaultParams returns the stock hyper-parameters.
func DefaultParams() Params {
	return Params{
		Lasso: LassoParams{C: 0.5, MaxIter: 8000, Tol: 1e-3, Balanced: true},
		Forest: ForestParams{
			Trees:          300,
			MinSamplesLeaf: 1,
			Bootstrap:      true,
			Balanced:       true,
		},
		RFE:   RFEParams{C: 0.1, Step: 0.99, Tol: 5e-2, MaxIter: 5000},
		Ridge: RidgeParams{Alpha: 1, Repeats: 50, Subsample: 0.7},
		MLP: MLPParams{
			Hidden:       []int{128},
			Alpha:        1e-4,
			LearningRate: 1e-3,
			Epochs:       300,
			Models:       5,
			Upsample:     true,
		},
		Boost: BoostParams{
			Rounds:          400,
			MaxDepth:        6,
			LearningRate:    0.05,
			Subsample:       0.8,
			Colsample:       0.8,
			Lambda:          1,
			AttributionRows: 2000,
		},
	}
}

// withDefaults fills zero numeric fields from DefaultParams. Boolean
// switches are taken as given.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	orF := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	orI := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	orF(&p.Lasso.C, d.Lasso.C)
	orI(&p.Lasso.MaxIter, d.Lasso.MaxIter)
	orF(&p.Lasso.Tol, d.Lasso.Tol)
	orI(&p.Forest.Trees, d.Forest.Trees)
	orI(&p.Forest.MinSamplesLeaf, d.Forest.MinSamplesLeaf)
	orF(&p.RFE.C, d.RFE.C)
	orF(&p.RFE.Step, d.RFE.Step)
	orF(&p.RFE.Tol, d.RFE.Tol)
	orI(&p.RFE.MaxIter, d.RFE.MaxIter)
	orF(&p.Ridge.Alpha, d.Ridge.Alpha)
	orI(&p.Ridge.Repeats, d.Ridge.Repeats)
	orF(&p.Ridge.Subsample, d.Ridge.Subsample)
	if len(p.MLP.Hidden) == 0 {
		p.MLP.Hidden = d.MLP.Hidden
	}
	orF(&p.MLP.Alpha, d.MLP.Alpha)
	orF(&p.MLP.LearningRate, d.MLP.LearningRate)
	orI(&p.MLP.Epochs, d.MLP.Epochs)
	orI(&p.MLP.Models, d.MLP.Models)
	orI(&p.Boost.Rounds, d.Boost.Rounds)
	orI(&p.Boost.MaxDepth, d.Boost.MaxDepth)
	orF(&p.Boost.LearningRate, d.Boost.LearningRate)
	orF(&p.Boost.Subsample, d.Boost.Subsample)
	orF(&p.Boost.Colsample, d.Boost.Colsample)
	orF(&p.Boost.Lambda, d.Boost.Lambda)
	orI(&p.Boost.AttributionRows, d.Boost.AttributionRows)
	return p
}

// Relevant returns the defaulted hyper-parameters that can change the
// output of id. Worker counts never do.
func (p Params) Relevant(id ID) map[string]any {
	p = p.withDefaults()
	switch id {
	case Lasso:
		return map[string]any{"lasso": p.Lasso}
	case RandomForest:
		return map[string]any{"seed": p.Seed, "random_forest": p.Forest}
	case RFESVM:
		return map[string]any{"seed": p.Seed, "rfe_svm": p.RFE}
	case Ridge:
		return map[string]any{"seed": p.Seed, "ridge": p.Ridge}
	case MLP:
		return map[string]any{"seed": p.Seed, "mlp": p.MLP}
	case SHAPBoost:
		return map[string]any{"seed": p.Seed, "boost": p.Boost}
	}
	return nil
}
