package learn

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// signalData returns rows whose feature 0 separates the classes and whose
// remaining features are noise.
func signalData(n, p, classes int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range n {
		y[i] = i % classes
		row := make([]float64, p)
		row[0] = float64(y[i])*2 + rng.NormFloat64()*0.1
		for j := 1; j < p; j++ {
			row[j] = rng.NormFloat64()
		}
		x[i] = row
	}
	return x, y
}

func argmax(v []float64) int {
	best := 0
	for j := range v {
		if v[j] > v[best] {
			best = j
		}
	}
	return best
}

func TestBalancedWeights(t *testing.T) {
	w := BalancedWeights([]int{0, 0, 0, 1}, 2)
	if math.Abs(w[0]-4.0/6) > 1e-12 || math.Abs(w[1]-2) > 1e-12 {
		t.Fatalf("unexpected weights %v", w)
	}
}

func TestTreeImportanceFindsSignal(t *testing.T) {
	x, y := signalData(60, 5, 2, 1)
	w := make([]float64, len(y))
	idx := make([]int, len(y))
	for i := range w {
		w[i], idx[i] = 1, i
	}
	imp := TreeImportance(x, y, w, idx, 2, TreeConfig{}, rand.New(rand.NewSource(0)))
	if argmax(imp) != 0 {
		t.Fatalf("expected feature 0 to dominate, got %v", imp)
	}
	var sum float64
	for _, v := range imp {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("expected normalized importances, sum=%f", sum)
	}
}

func TestForestImportanceDeterministic(t *testing.T) {
	x, y := signalData(60, 6, 3, 2)
	cfg := ForestConfig{Trees: 20, Bootstrap: true, Balanced: true, Seed: 7, Workers: 3}
	a, err := ForestImportance(context.Background(), x, y, 3, cfg)
	if err != nil {
		t.Fatalf("ForestImportance: %v", err)
	}
	cfg.Workers = 1
	b, err := ForestImportance(context.Background(), x, y, 3, cfg)
	if err != nil {
		t.Fatalf("ForestImportance: %v", err)
	}
	if !slices.Equal(a, b) {
		t.Fatalf("forest not deterministic across worker counts:\n%v\n%v", a, b)
	}
	if argmax(a) != 0 {
		t.Fatalf("expected feature 0 to dominate, got %v", a)
	}
}

func TestForestImportanceCancelled(t *testing.T) {
	x, y := signalData(20, 3, 2, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ForestImportance(ctx, x, y, 2, ForestConfig{Trees: 5}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestBoosterAttributionAndGain(t *testing.T) {
	for _, classes := range []int{2, 3} {
		x, y := signalData(90, 5, classes, 4)
		cfg := BoostConfig{Rounds: 20, MaxDepth: 3, LearningRate: 0.3, Subsample: 0.8, Colsample: 0.8, Lambda: 1, Seed: 1}
		b, err := FitBooster(context.Background(), x, y, classes, cfg)
		if err != nil {
			t.Fatalf("FitBooster: %v", err)
		}
		attr := b.MeanAbsAttribution(x)
		if len(attr) != 5 || argmax(attr) != 0 {
			t.Fatalf("classes=%d: expected feature 0 to dominate attribution, got %v", classes, attr)
		}
		if gain := b.Gain(); gain[0] <= 0 {
			t.Fatalf("classes=%d: expected positive gain for feature 0, got %v", classes, gain)
		}

		again, _ := FitBooster(context.Background(), x, y, classes, cfg)
		if !slices.Equal(attr, again.MeanAbsAttribution(x)) {
			t.Fatalf("classes=%d: booster not deterministic", classes)
		}
	}
}

func TestFitL1LogisticSparsity(t *testing.T) {
	x, y := signalData(80, 6, 2, 5)
	ws, err := FitL1Logistic(context.Background(), x, y, 2, LogisticConfig{C: 0.5, MaxIter: 3000, Tol: 1e-6, Balanced: true})
	if err != nil {
		t.Fatalf("FitL1Logistic: %v", err)
	}
	if len(ws) != 1 {
		t.Fatalf("expected one coefficient vector for two classes, got %d", len(ws))
	}
	abs := make([]float64, len(ws[0]))
	for j, v := range ws[0] {
		abs[j] = math.Abs(v)
	}
	if argmax(abs) != 0 || ws[0][0] <= 0 {
		t.Fatalf("expected a positive dominant weight on feature 0, got %v", ws[0])
	}

	multi, err := FitL1Logistic(context.Background(), x, y, 3, LogisticConfig{C: 0.5, MaxIter: 100})
	if err != nil {
		t.Fatalf("FitL1Logistic: %v", err)
	}
	if len(multi) != 3 {
		t.Fatalf("expected one vector per class, got %d", len(multi))
	}
}

func TestFitRidgeSingleFeature(t *testing.T) {
	x := [][]float64{{-1}, {1}, {-1}, {1}}
	y := []int{0, 1, 0, 1}
	ws, err := FitRidge(x, y, 2, 1)
	if err != nil {
		t.Fatalf("FitRidge: %v", err)
	}
	// sum(x*y) / (sum(x^2) + alpha) = 4 / 5
	if math.Abs(ws[0][0]-0.8) > 1e-9 {
		t.Fatalf("expected 0.8, got %v", ws[0])
	}
}

func TestFitRidgeDualSatisfiesNormalEquations(t *testing.T) {
	x, y := signalData(6, 10, 2, 6)
	ws, err := FitRidge(x, y, 2, 0.5)
	if err != nil {
		t.Fatalf("FitRidge: %v", err)
	}
	n, p := len(x), len(x[0])
	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for j := range p {
		var mean float64
		for i := range n {
			mean += x[i][j]
		}
		mean /= float64(n)
		for i := range n {
			xc.Set(i, j, x[i][j]-mean)
		}
	}
	for i := range n {
		yc.SetVec(i, 2*float64(y[i])-1)
	}
	var ym float64
	for i := range n {
		ym += yc.AtVec(i)
	}
	ym /= float64(n)
	for i := range n {
		yc.SetVec(i, yc.AtVec(i)-ym)
	}

	w := mat.NewVecDense(p, ws[0])
	var lhs, xw, rhs mat.VecDense
	xw.MulVec(xc, w)
	lhs.MulVec(xc.T(), &xw)
	lhs.AddScaledVec(&lhs, 0.5, w)
	rhs.MulVec(xc.T(), yc)
	for j := range p {
		if math.Abs(lhs.AtVec(j)-rhs.AtVec(j)) > 1e-8 {
			t.Fatalf("normal equation %d: %f != %f", j, lhs.AtVec(j), rhs.AtVec(j))
		}
	}
}

func TestRecursiveEliminationKeepsSignal(t *testing.T) {
	x, y := signalData(60, 8, 2, 7)
	survived, err := RecursiveElimination(context.Background(), x, y, 2, RFEConfig{
		SVM:  SVMConfig{C: 0.1, Tol: 1e-3, MaxIter: 500},
		Step: 0.5,
	})
	if err != nil {
		t.Fatalf("RecursiveElimination: %v", err)
	}
	if len(survived) != 8 {
		t.Fatalf("expected 8 scores, got %d", len(survived))
	}
	for j := 1; j < 8; j++ {
		if survived[j] >= survived[0] {
			t.Fatalf("feature %d survived as long as the signal: %v", j, survived)
		}
	}
}

func TestMLPConnectionImportance(t *testing.T) {
	x, y := signalData(40, 4, 2, 8)
	cfg := MLPConfig{Hidden: []int{8, 4}, Alpha: 1e-4, LearningRate: 1e-2, Epochs: 30, Seed: 3}
	a, err := FitMLP(context.Background(), x, y, 2, cfg)
	if err != nil {
		t.Fatalf("FitMLP: %v", err)
	}
	b, err := FitMLP(context.Background(), x, y, 2, cfg)
	if err != nil {
		t.Fatalf("FitMLP: %v", err)
	}
	ia, ib := a.ConnectionImportance(), b.ConnectionImportance()
	if len(ia) != 4 || !slices.Equal(ia, ib) {
		t.Fatalf("expected deterministic importances of length 4, got %v / %v", ia, ib)
	}
	for _, v := range ia {
		if math.IsNaN(v) || v < 0 {
			t.Fatalf("unexpected importance %v", ia)
		}
	}
}
