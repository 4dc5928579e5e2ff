// Package ranking orders the features of a prepared dataset by their
// relevance to the label. Each Strategy produces a total order; only the
// random baseline is allowed to differ between runs.
package ranking

// #region imports
import (
	"context"
	"slices"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// #endregion

// #region ranking

// Entry is one ranked feature.
type Entry struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Ranking lists every input feature once, best first.
type Ranking []Entry

// Features returns the feature names in rank order.
func (r Ranking) Features() []string {
	out := make([]string, len(r))
	for i, e := range r {
		out[i] = e.Feature
	}
	return out
}

// Equal reports whether both rankings hold the same features in the same
// order with the same scores.
func (r Ranking) Equal(o Ranking) bool {
	return slices.Equal(r, o)
}

// #endregion

// #region strategy

// Strategy scores and orders the features of a dataset.
type Strategy interface {
	Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, ds *dataset.Dataset) (Ranking, error)

func (f StrategyFunc) Rank(ctx context.Context, ds *dataset.Dataset) (Ranking, error) {
	return f(ctx, ds)
}

// #endregion

// #region ids

// ID is the stable identifier of a strategy.
type ID string

const (
	ANOVA        ID = "anova_ftest"
	Lasso        ID = "lasso_lrc"
	RandomForest ID = "random_forest"
	RFESVM       ID = "rfe_svm"
	Ridge        ID = "ridge_l2"
	MLP          ID = "garsen_olden_mlp"
	SHAPBoost    ID = "shap_xgboost"
	Baseline     ID = "dummy_classifier"
)

// Info describes a strategy for listings.
type Info struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Deterministic bool   `json:"deterministic"`
}

var catalogue = []Info{
	{ANOVA, "ANOVA F-test", "One-way ANOVA F statistic per feature; ties by p-value.", true},
	{Lasso, "Lasso logistic regression", "L1-penalized logistic coefficients; ties by absolute correlation with the label.", true},
	{RandomForest, "Random forest importance", "Mean impurity decrease over a balanced random forest.", true},
	{RFESVM, "RFE with linear SVM", "Recursive feature elimination driven by linear SVM weights.", true},
	{Ridge, "Ridge stability", "Mean absolute ridge coefficient over random subsamples.", true},
	{MLP, "Garson/Olden MLP", "Connection-weight importance averaged over several neural networks.", true},
	{SHAPBoost, "Boosted tree attribution", "Mean absolute per-feature attribution of a boosted tree ensemble; ties by split gain.", true},
	{Baseline, "Random baseline", "Uniformly random scores; a reference point, not reproducible.", false},
}

// Catalogue lists every strategy in a stable order.
func Catalogue() []Info {
	return slices.Clone(catalogue)
}

// IDs returns every strategy identifier in catalogue order.
func IDs() []ID {
	out := make([]ID, len(catalogue))
	for i, info := range catalogue {
		out[i] = info.ID
	}
	return out
}

// Parse validates a strategy identifier.
func Parse(s string) (ID, error) {
	for _, info := range catalogue {
		if string(info.ID) == s {
			return info.ID, nil
		}
	}
	return "", &Error{Strategy: ID(s), Err: ErrUnknownStrategy}
}

// Lookup returns the catalogue entry for id.
func Lookup(id ID) (Info, bool) {
	for _, info := range catalogue {
		if info.ID == id {
			return info, true
		}
	}
	return Info{}, false
}

// #endregion
