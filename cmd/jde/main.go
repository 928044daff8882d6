// Package main provides the jde command: inspect and validate joint
// detection and embedding training data.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"

	"github.com/akamensky/argparse"
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/cyclopcam/logs"
	"github.com/dustin/go-humanize"

	"github.com/born-ml/jde/dataset"
	"github.com/born-ml/jde/internal/parallel"
	"github.com/born-ml/jde/loss"
)

const version = "v0.1.0"

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("jde", "Joint detection and embedding training data")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML options file", Required: false})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Number of loader workers (0 = one per CPU)", Default: 0})
	seed := parser.Int("s", "seed", &argparse.Options{Help: "Augmentation seed", Default: 0})
	unsup := parser.Flag("u", "unsup", &argparse.Options{Help: "Build mirrored views for self-supervised training"})

	summaryCmd := parser.NewCommand("summary", "Print datasets and the identity space")
	checkCmd := parser.NewCommand("check", "Fetch every sample and report failures")
	baselineCmd := parser.NewCommand("baseline", "Loss of one batch against constant predictions")
	imagesCmd := parser.NewCommand("images", "Letterbox inference images and print their geometry")
	imagesPath := imagesCmd.String("i", "input", &argparse.Options{Help: "Image file or directory", Required: true})
	versionCmd := parser.NewCommand("version", "Show version")

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	if versionCmd.Happened() {
		fmt.Printf("jde %s\n", version)
		return
	}

	logger, err := logs.NewLog()
	check(err)

	opt := dataset.DefaultOptions()
	if *configFile != "" {
		opt, err = dataset.LoadOptions(*configFile)
		check(err)
	}
	if *workers > 0 {
		opt.Workers = *workers
	}
	opt.Seed = int64(*seed)
	if *unsup {
		opt.Unsup = true
	}

	if imagesCmd.Happened() {
		check(images(*imagesPath, opt, logger))
		return
	}

	ds, err := dataset.New(opt, logger, os.Stderr)
	check(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case summaryCmd.Happened():
		summary(ds)
	case checkCmd.Happened():
		check(checkSamples(ctx, ds, opt, logger))
	case baselineCmd.Happened():
		check(baseline(ctx, ds, opt, logger))
	}
}

func summary(ds *dataset.JointDataset) {
	fmt.Printf("%-24s %12s %12s %10s\n", "dataset", "images", "identities", "offset")
	for _, d := range ds.Datasets {
		fmt.Printf("%-24s %12s %12s %10v\n", d.Name, humanize.Comma(int64(len(d.Images))), humanize.Comma(int64(d.Identities)), d.Offset)
	}
	fmt.Printf("%-24s %12s %12s\n", "total", humanize.Comma(int64(ds.Len())), humanize.Comma(int64(ds.NumIdentities())))
}

// checkSamples fetches every sample once, collecting failures instead of
// stopping at the first one.
func checkSamples(ctx context.Context, ds *dataset.JointDataset, opt dataset.Options, log logs.Log) error {
	par := parallel.WithWorkers(opt.Workers)
	rngs := make([]*rand.Rand, par.NumWorkers)
	for w := range rngs {
		rngs[w] = rand.New(rand.NewSource(opt.Seed + int64(w)))
	}

	var (
		mu       sync.Mutex
		failures = map[int]error{}
		objects  int64
	)
	err := parallel.For(ds.Len(), func(w, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := ds.Get(i, rngs[w])
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures[i] = err
			return nil
		}
		objects += int64(s.Target.NumObjs)
		return nil
	}, par)
	if err != nil {
		return err
	}

	bad := make([]int, 0, len(failures))
	for i := range failures {
		bad = append(bad, i)
	}
	sort.Ints(bad)
	corrupt := 0
	for _, i := range bad {
		if errors.Is(failures[i], dataset.ErrCorruptImage) {
			corrupt++
		}
		log.Errorf("Sample %v: %v", i, failures[i])
	}
	log.Infof("Checked %v samples: %v encoded objects, %v failed (%v corrupt images), %v view mismatches, %v unknown classes",
		humanize.Comma(int64(ds.Len())), humanize.Comma(objects), len(bad), corrupt, ds.Mismatches(), ds.UnknownClasses())
	if len(bad) > 0 {
		return fmt.Errorf("%v of %v samples failed", len(bad), ds.Len())
	}
	return nil
}

// images letterboxes every image under path to the network input and prints
// the scale and padding that map detections back to source pixels.
func images(path string, opt dataset.Options, log logs.Log) error {
	src, err := dataset.LoadImages(path, opt.InputWidth, opt.InputHeight)
	if err != nil {
		return err
	}
	fmt.Printf("%-40s %11s %8s %8s %8s\n", "image", "source", "ratio", "pad x", "pad y")
	failed := 0
	for i := 0; i < src.Len(); i++ {
		f, err := src.Get(i)
		if err != nil {
			log.Errorf("%v: %v", src.Files[i], err)
			failed++
			continue
		}
		size := fmt.Sprintf("%dx%d", f.Source.Cols(), f.Source.Rows())
		f.Source.Close()
		fmt.Printf("%-40s %11s %8.4f %8.1f %8.1f\n", f.Path, size, f.Box.Ratio, f.Box.DW, f.Box.DH)
	}
	if failed > 0 {
		return fmt.Errorf("%v of %v images failed to decode", failed, src.Len())
	}
	return nil
}

// baseline loads the first batch and evaluates the loss of an untrained
// head: zero logits and zero regressions everywhere. It then backpropagates
// once and takes one Adam step so the learned uncertainties can be checked.
func baseline(ctx context.Context, ds *dataset.JointDataset, opt dataset.Options, log logs.Log) error {
	backend := autodiff.New(cpu.New())
	crit, err := loss.New(opt, ds.NumIdentities(), backend)
	if err != nil {
		return err
	}
	adam := optim.NewAdam(crit.Parameters(), optim.AdamConfig{LR: 1e-4, Betas: [2]float32{0.9, 0.999}, Eps: 1e-8}, backend)
	loader := dataset.NewLoader(ds, opt, log)
	loader.Shuffle = false

	errDone := errors.New("done")
	err = loader.Run(ctx, 0, func(b *dataset.Batch) error {
		backend.Tape().StartRecording()
		defer backend.Tape().Clear()

		out := zeroOutput(backend, opt, b)
		var flipped []loss.Output[*autodiff.Backend[*cpu.Backend]]
		if opt.Unsup {
			flipped = out
		}
		total, stats, err := crit.Forward(out, flipped, b)
		if err != nil {
			return err
		}
		for _, name := range crit.Names() {
			fmt.Printf("%-14s %.4f\n", name, stats[name])
		}
		adam.Step(autodiff.Backward(total, backend))
		for _, name := range []string{"s_det", "s_id"} {
			fmt.Printf("%-14s %.6f\n", name+"'", crit.StateDict()[name].AsFloat32()[0])
		}
		return errDone
	})
	if errors.Is(err, errDone) {
		return nil
	}
	if err == nil {
		return errors.New("no complete batch to evaluate")
	}
	return err
}

func zeroOutput[B tensor.Backend](backend B, opt dataset.Options, b *dataset.Batch) []loss.Output[B] {
	zeros := func(c int) *tensor.Tensor[float32, B] {
		return tensor.Zeros[float32](tensor.Shape{b.Size, c, b.Height, b.Width}, backend)
	}
	wh := 2
	if opt.CatSpecWH {
		wh = 2 * b.Classes
	}
	outs := make([]loss.Output[B], opt.NumStacks)
	for i := range outs {
		outs[i] = loss.Output[B]{HM: zeros(b.Classes), WH: zeros(wh), Reg: zeros(2), ID: zeros(opt.ReIDDim)}
	}
	return outs
}
