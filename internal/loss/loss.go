// Package loss implements the joint detection and embedding objective: a
// center-point detection loss (heatmap, size, offset) and an identity
// embedding loss, balanced by two learned log-uncertainties.
//
// Every term is a born tensor expression, so wrapping the backend with
// autodiff records the whole loss on the tape:
//
//	backend := autodiff.New(cpu.New())
//	crit, err := loss.New(opt, numIdentities, backend)
//	backend.Tape().StartRecording()
//	outs := model.Forward(images)
//	total, stats, err := crit.Forward(outs, nil, batch)
//	grads := autodiff.Backward(total, backend)
package loss

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/jde/internal/batch"
	"github.com/born-ml/jde/internal/config"
)

// ErrUnsupportedLoss is returned by New for loss kinds and combinations it
// cannot build.
var ErrUnsupportedLoss = errors.New("unsupported loss")

// Output is one refinement stage of the network: class heatmap logits
// [N, C, H, W], sizes [N, 2, H, W] (or [N, 2C, H, W] with class-specific
// sizes), offsets [N, 2, H, W] and embeddings [N, D, H, W].
type Output[B tensor.Backend] struct {
	HM, WH, Reg, ID *tensor.Tensor[float32, B]
}

type heatmapFunc[B tensor.Backend] func(pred *tensor.Tensor[float32, B], gt []float32) *tensor.Tensor[float32, B]

type mapFunc[B tensor.Backend] func(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B]

// MultiTaskLoss computes
//
//	0.5 * (exp(-s_det)*det + exp(-s_id)*id + s_det + s_id)
//
// where det = hm_weight*hm + wh_weight*wh + off_weight*off.
// Strategies are chosen once by New.
type MultiTaskLoss[B tensor.Backend] struct {
	opt      config.Options
	backend  B
	nID      int
	embScale float32

	heatmap heatmapFunc[B]
	size    mapFunc[B]
	offset  mapFunc[B]
	selfSup pairLoss[B]

	classifier *nn.Linear[B]
	ce         *nn.CrossEntropyLoss[B]
	sDet, sID  *nn.Parameter[B]
	names      []string
}

// New builds the loss. numIdentities is the size of the global identity
// space; opt.NumIdentities overrides it when positive.
func New[B tensor.Backend](opt config.Options, numIdentities int, backend B) (*MultiTaskLoss[B], error) {
	if opt.NumStacks <= 0 {
		return nil, fmt.Errorf("%w: num_stacks %v", ErrUnsupportedLoss, opt.NumStacks)
	}
	l := &MultiTaskLoss[B]{
		opt:     opt,
		backend: backend,
		nID:     numIdentities,
		ce:      nn.NewCrossEntropyLoss(backend),
		names:   opt.LossNames(),
	}
	if opt.NumIdentities > 0 {
		l.nID = opt.NumIdentities
	}

	if opt.MSELoss {
		l.heatmap = mseLoss[B]
	} else {
		l.heatmap = func(pred *tensor.Tensor[float32, B], gt []float32) *tensor.Tensor[float32, B] {
			return focalLoss(clampedSigmoid(pred), gt)
		}
	}

	var reg func(*tensor.Tensor[float32, B], regTarget) *tensor.Tensor[float32, B]
	switch opt.RegLoss {
	case config.RegLossL1:
		reg = maskedL1[B]
	case config.RegLossSmoothL1:
		reg = maskedSmoothL1[B]
	default:
		return nil, fmt.Errorf("%w: reg_loss %q", ErrUnsupportedLoss, opt.RegLoss)
	}
	l.offset = func(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
		return reg(feat, regTarget{ind: b.Ind, mask: b.RegMask, target: b.Reg, k: b.K})
	}

	switch {
	case opt.DenseWH && (opt.NormWH || opt.CatSpecWH), opt.NormWH && opt.CatSpecWH:
		return nil, fmt.Errorf("%w: dense_wh, norm_wh and cat_spec_wh cannot be combined", ErrUnsupportedLoss)
	case opt.DenseWH:
		l.size = func(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
			if b.DenseWH == nil {
				panic("loss: batch has no dense size targets")
			}
			return denseL1(feat, b.DenseWH, b.DenseWHMask)
		}
	case opt.NormWH:
		l.size = func(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
			return normL1(feat, regTarget{ind: b.Ind, mask: b.RegMask, target: b.WH, k: b.K})
		}
	case opt.CatSpecWH:
		l.size = func(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
			if b.CatSpecWH == nil {
				panic("loss: batch has no class-specific size targets")
			}
			return catSpecL1(feat, b.Ind, b.K, b.CatSpecWH, b.CatSpecMask)
		}
	default:
		l.size = func(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
			return reg(feat, regTarget{ind: b.Ind, mask: b.RegMask, target: b.WH, k: b.K})
		}
	}

	if opt.Unsup {
		switch opt.UnsupLoss {
		case config.UnsupNTXent:
			l.selfSup = ntXent(l.ce)
		case config.UnsupTripletAll:
			l.selfSup = tripletAll[B]()
		case config.UnsupTripletHard:
			l.selfSup = tripletHard[B]()
		default:
			return nil, fmt.Errorf("%w: %q is not a self-supervised loss, choose %v, %v or %v",
				ErrUnsupportedLoss, opt.UnsupLoss, config.UnsupNTXent, config.UnsupTripletAll, config.UnsupTripletHard)
		}
	} else {
		// The embedding scale is sqrt(2)*ln(nID-1); it needs nID > 2.
		if l.nID < 3 {
			return nil, fmt.Errorf("%w: identity classifier needs at least 3 identities, got %d", ErrUnsupportedLoss, l.nID)
		}
		l.classifier = nn.NewLinear(opt.ReIDDim, l.nID, backend)
	}
	l.embScale = 1
	if l.nID > 2 {
		l.embScale = float32(math.Sqrt2 * math.Log(float64(l.nID-1)))
	}

	l.sDet = nn.NewParameter("s_det", tensor.Full[float32](tensor.Shape{1}, opt.InitSDet, backend))
	l.sID = nn.NewParameter("s_id", tensor.Full[float32](tensor.Shape{1}, opt.InitSID, backend))
	return l, nil
}

// Parameters returns the trainable tensors of the loss: the two
// log-uncertainties and, in supervised mode, the identity classifier.
func (l *MultiTaskLoss[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{l.sDet, l.sID}
	if l.classifier != nil {
		params = append(params, l.classifier.Parameters()...)
	}
	return params
}

// classifierPrefix namespaces the classifier entries of the state dict.
const classifierPrefix = "classifier."

// StateDict returns the trainable state keyed by name, for checkpoints.
func (l *MultiTaskLoss[B]) StateDict() map[string]*tensor.RawTensor {
	state := map[string]*tensor.RawTensor{
		l.sDet.Name(): l.sDet.Tensor().Raw(),
		l.sID.Name():  l.sID.Tensor().Raw(),
	}
	if l.classifier != nil {
		for k, v := range l.classifier.StateDict() {
			state[classifierPrefix+k] = v
		}
	}
	return state
}

// LoadStateDict restores state produced by StateDict.
func (l *MultiTaskLoss[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for _, p := range []*nn.Parameter[B]{l.sDet, l.sID} {
		raw, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("loss: missing %s in state dict", p.Name())
		}
		if !raw.Shape().Equal(tensor.Shape{1}) || raw.DType() != tensor.Float32 {
			return fmt.Errorf("loss: %s must be a float32 [1], got %v %v", p.Name(), raw.DType(), raw.Shape())
		}
		copy(p.Tensor().Data(), raw.AsFloat32())
	}
	if l.classifier == nil {
		return nil
	}
	sub := make(map[string]*tensor.RawTensor)
	for k, v := range state {
		if name, ok := strings.CutPrefix(k, classifierPrefix); ok {
			sub[name] = v
		}
	}
	if err := l.classifier.LoadStateDict(sub); err != nil {
		return fmt.Errorf("loss: classifier: %w", err)
	}
	return nil
}

// Names lists the keys of the stats map returned by Forward.
func (l *MultiTaskLoss[B]) Names() []string { return l.names }

// EmbScale is the factor applied to unit embeddings before classification.
func (l *MultiTaskLoss[B]) EmbScale() float32 { return l.embScale }

// NumIdentities is the number of identity classes.
func (l *MultiTaskLoss[B]) NumIdentities() int { return l.nID }

// Forward computes the loss of one batch. orig holds one Output per stage;
// flipped holds the stages of the mirrored view and must be given in
// self-supervised mode. The stats are per-stage averages of the
// unweighted terms plus the total under "loss".
func (l *MultiTaskLoss[B]) Forward(orig, flipped []Output[B], b *batch.Batch) (*tensor.Tensor[float32, B], map[string]float32, error) {
	if len(orig) != l.opt.NumStacks {
		return nil, nil, fmt.Errorf("loss: got %d stages, want %d", len(orig), l.opt.NumStacks)
	}
	if l.opt.Unsup {
		if len(flipped) != len(orig) {
			return nil, nil, fmt.Errorf("loss: self-supervised mode needs %d flipped stages, got %d", len(orig), len(flipped))
		}
		if !b.Unsup() {
			return nil, nil, errors.New("loss: self-supervised mode needs a batch with flipped targets")
		}
	}

	inv := 1 / float32(l.opt.NumStacks)
	hm, wh, off, id := zero(l.backend), zero(l.backend), zero(l.backend), zero(l.backend)
	for s, out := range orig {
		hm = hm.Add(scale(l.heatmap(out.HM, b.HM), inv))
		if l.opt.WHWeight > 0 {
			wh = wh.Add(scale(l.size(out.WH, b), inv))
		}
		if l.opt.RegOffset && l.opt.OffWeight > 0 {
			off = off.Add(scale(l.offset(out.Reg, b), inv))
		}
		switch {
		case l.opt.Unsup:
			id = id.Add(scale(l.selfSupervised(out.ID, flipped[s].ID, b), inv))
		case l.opt.IDWeight > 0:
			id = id.Add(scale(l.identity(out.ID, b), inv))
		}
	}

	det := scale(hm, l.opt.HMWeight).Add(scale(wh, l.opt.WHWeight)).Add(scale(off, l.opt.OffWeight))
	sDet, sID := l.sDet.Tensor(), l.sID.Tensor()
	weighted := scale(sDet, -1).Exp().Mul(det).Add(scale(sID, -1).Exp().Mul(id))
	total := scale(weighted.Add(sDet).Add(sID), 0.5)

	stats := map[string]float32{
		"loss": total.Data()[0],
		"hm":   hm.Data()[0],
		"wh":   wh.Data()[0],
	}
	if l.opt.RegOffset {
		stats["off"] = off.Data()[0]
	}
	if l.opt.Unsup {
		stats[l.opt.UnsupLoss] = id.Data()[0]
	} else {
		stats["id"] = id.Data()[0]
	}
	return total, stats, nil
}

// embeddings gathers the embedding of every object slot as [N*K, D].
func embeddings[B tensor.Backend](feat *tensor.Tensor[float32, B], ind []int32, k int) *tensor.Tensor[float32, B] {
	e := transposeAndGather(feat, ind, k)
	s := e.Shape()
	return e.Reshape(s[0]*s[1], s[2])
}

// identity classifies the scaled embeddings of objects with a known
// identity. Unknown identities (-1) and empty slots are skipped.
func (l *MultiTaskLoss[B]) identity(feat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
	var rows []int
	var targets []int32
	for i, m := range b.RegMask {
		if m > 0 && b.IDs[i] >= 0 {
			rows = append(rows, i)
			targets = append(targets, b.IDs[i])
		}
	}
	emb := selectRows(embeddings(feat, b.Ind, b.K), rows)
	if emb == nil {
		return zero(l.backend)
	}
	for _, t := range targets {
		if int(t) >= l.nID {
			panic(fmt.Sprintf("loss: identity %d outside %d classes", t, l.nID))
		}
	}
	logits := l.classifier.Forward(scale(normalizeRows(emb), l.embScale))
	return l.ce.Forward(logits, indices(l.backend, targets, len(targets))).Reshape(1)
}

// selfSupervised averages the pair loss over samples whose views
// correspond and hold at least two objects.
func (l *MultiTaskLoss[B]) selfSupervised(feat, flippedFeat *tensor.Tensor[float32, B], b *batch.Batch) *tensor.Tensor[float32, B] {
	orig := embeddings(feat, b.Ind, b.K)
	mirror := embeddings(flippedFeat, b.FlippedInd, b.K)

	sum := zero(l.backend)
	groups := 0
	for i := 0; i < b.Size; i++ {
		if !b.FlippedValid[i] || b.NumObjs[i] < 2 {
			continue
		}
		var rows []int
		for k := 0; k < b.K; k++ {
			if b.RegMask[i*b.K+k] > 0 {
				rows = append(rows, i*b.K+k)
			}
		}
		g := group[B]{
			orig:    scale(normalizeRows(selectRows(orig, rows)), l.embScale),
			flipped: normalizeRows(selectRows(mirror, rows)),
			n:       len(rows),
		}
		sum = sum.Add(l.selfSup(g))
		groups++
	}
	if groups == 0 {
		return sum
	}
	return scale(sum, 1/float32(groups))
}
