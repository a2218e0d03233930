package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/scembed/scembed/pkg/anndata"
	"github.com/scembed/scembed/pkg/models"
	"github.com/scembed/scembed/pkg/scgpt"
)

// methodID identifies this pipeline in the output metadata.
const methodID = "scgpt_finetuned"

// finetuneArgs are the finetune command arguments.
type finetuneArgs struct {
	input      string
	output     string
	model      string
	workDir    string
	saveBest   string
	plotPath   string
	batchKey   string
	countLayer string
	nHVG       int
	epochs     int
	batchSize  int
	lr         float64
	maskRatio  float64
	seed       int64
}

// NewFinetuneCommand returns a new finetune command.
func NewFinetuneCommand() *cobra.Command {
	var args finetuneArgs
	cmd := &cobra.Command{
		Use:   "finetune",
		Short: "Fine-tune on a count matrix and write cell embeddings",
		Long: `
Reads an annotated count matrix, fine-tunes the pretrained gene expression
model on it with masked-value, expression-from-cell-embedding and batch
adversarial objectives, and writes per-cell embeddings.
	`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runFinetune(&args)
		},
	}
	cmd.Flags().StringVarP(&args.input, "input", "i", "", "input matrix file")
	cmd.Flags().StringVarP(&args.output, "output", "o", "", "output embedding file")
	cmd.Flags().StringVarP(&args.model, "model", "m", "scgpt-human",
		"pretrained model: directory, archive, or published name")
	cmd.Flags().StringVar(&args.workDir, "work-dir", "",
		"working directory for downloads and extraction (default a temp dir)")
	cmd.Flags().StringVar(&args.saveBest, "save-best", "",
		"directory to save the best fine-tuned model into")
	cmd.Flags().StringVar(&args.plotPath, "plot", "", "write a loss curve PNG to this path")
	cmd.Flags().StringVar(&args.batchKey, "batch-key", "batch", "obs column holding sequencing batches")
	cmd.Flags().StringVar(&args.countLayer, "count-layer", "counts", "layer holding raw counts")
	cmd.Flags().IntVar(&args.nHVG, "hvg", 3000, "number of highly variable genes to keep")
	cmd.Flags().IntVar(&args.epochs, "epochs", 0, "override fine-tuning epochs")
	cmd.Flags().IntVar(&args.batchSize, "batch-size", 0, "override training batch size")
	cmd.Flags().Float64Var(&args.lr, "lr", 0, "override learning rate")
	cmd.Flags().Float64Var(&args.maskRatio, "mask-ratio", 0, "override value masking ratio")
	cmd.Flags().Int64Var(&args.seed, "seed", 0, "random seed")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runFinetune(args *finetuneArgs) error {
	adata, err := anndata.Read(args.input, anndata.WithXFromLayer(args.countLayer))
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	log.Info("loaded input", "cells", adata.NRows(), "genes", adata.NVars())

	// The pretrained vocabulary covers human genes only. Anything else is
	// a clean no-op, not an error.
	if organism, ok := adata.Uns["dataset_organism"]; ok && organism != "homo_sapiens" {
		log.Warn("model is only applicable to human data, skipping",
			"dataset_organism", organism)
		return nil
	}

	if names, ok := adata.Var.Str("feature_name"); ok {
		if err := adata.Var.SetIndex(names); err != nil {
			return err
		}
	}
	batchCodes, batchNames, err := adata.Obs.Codes(args.batchKey)
	if err != nil {
		return fmt.Errorf("resolving sequencing batches: %w", err)
	}
	log.Info("sequencing batches", "count", len(batchNames))

	workDir := args.workDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "scembed-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)
	}

	modelDir, err := models.Resolve(args.model, workDir)
	if err != nil {
		return fmt.Errorf("resolving model: %w", err)
	}
	cfg, err := scgpt.LoadPretrainedConfig(filepath.Join(modelDir, models.ConfigFile))
	if err != nil {
		return err
	}
	vocab, err := scgpt.LoadVocab(filepath.Join(modelDir, models.VocabFile))
	if err != nil {
		return err
	}
	for _, tok := range scgpt.SpecialTokens {
		vocab.AddToken(tok)
	}
	vocab.SetDefaultIndex(vocab.ID(scgpt.PadToken))

	// Keep only genes the pretrained vocabulary knows.
	names := adata.Var.Index()
	var inVocab []int
	for i, name := range names {
		if vocab.Contains(name) {
			inVocab = append(inVocab, i)
		}
	}
	log.Info("matched genes in vocabulary", "matched", len(inVocab), "total", len(names))
	if len(inVocab) == 0 {
		return fmt.Errorf("no genes matched the pretrained vocabulary")
	}
	if adata, err = adata.SubsetVars(inVocab); err != nil {
		return err
	}

	settings := scgpt.DefaultModelSettings(args.nHVG)
	pp := scgpt.NewPreprocessor(args.nHVG, settings.NInputBins)
	if adata, err = pp.Process(adata); err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	// Fewer genes than requested can survive filtering.
	settings = scgpt.DefaultModelSettings(adata.NVars())

	hp := scgpt.DefaultHyperparameters()
	if args.epochs > 0 {
		hp.Epochs = args.epochs
	}
	if args.batchSize > 0 {
		hp.BatchSize = args.batchSize
	}
	if args.lr > 0 {
		hp.LR = float32(args.lr)
	}
	if args.maskRatio > 0 {
		hp.MaskRatio = float32(args.maskRatio)
	}
	printRunTables(cfg, settings, hp, len(batchNames))

	nRows, nCols := adata.NRows(), adata.NVars()
	geneIDs := vocab.IDs(adata.Var.Index())
	binned := anndata.MatrixData(adata.Layers[scgpt.LayerBinned])

	rng := rand.New(rand.NewSource(args.seed))
	trainX, validX, trainLabels, validLabels, err := scgpt.TrainTestSplit(
		binned, nRows, nCols, batchCodes, 0.1, rng)
	if err != nil {
		return err
	}
	nTrain := len(trainLabels)
	nValid := len(validLabels)
	log.Info("split data", "train", nTrain, "valid", nValid)

	tokTrain, err := scgpt.TokenizeAndPad(trainX, nTrain, nCols, geneIDs,
		settings.MaxSeqLen, vocab, settings, true, true)
	if err != nil {
		return err
	}
	tokValid, err := scgpt.TokenizeAndPad(validX, nValid, nCols, geneIDs,
		settings.MaxSeqLen, vocab, settings, true, true)
	if err != nil {
		return err
	}

	model, err := scgpt.NewTransformerModel(scgpt.ModelConfig{
		VocabSize:  vocab.Len(),
		EmbSize:    cfg.EmbSize,
		NHeads:     cfg.NHeads,
		DHid:       cfg.DHid,
		NLayers:    cfg.NLayers,
		NInputBins: settings.NInputBins,
		NBatches:   len(batchNames),
		Dropout:    hp.Dropout,
		GEPC:       hp.GEPC,
		DSBN:       settings.DSBN,
		DabWeight:  hp.DabWeight,
	}, args.seed)
	if err != nil {
		return err
	}
	model.Allocate(hp.BatchSize, settings.MaxSeqLen)
	if meta, err := scgpt.LoadCheckpoint(model, filepath.Join(modelDir, models.CheckpointFile)); err != nil {
		return fmt.Errorf("loading pretrained weights: %w", err)
	} else if meta != nil {
		log.Info("loaded pretrained weights", "epoch", meta.Epoch, "val_loss", meta.ValLoss)
	}

	sched := scgpt.NewStepLR(hp.LR, hp.ScheduleRatio)
	bestLoss := float32(0)
	bestEpoch := 0
	var bestSnapshot []float32
	trainLosses := make([]float64, 0, hp.Epochs)
	validLosses := make([]float64, 0, hp.Epochs)
	globalStep := 0

	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		start := time.Now()
		trainData := scgpt.PrepareData(tokTrain, trainLabels, hp.MaskRatio, rng)
		validData := scgpt.PrepareData(tokValid, validLabels, hp.MaskRatio, rng)
		trainLoader := scgpt.NewDataLoader(trainData, hp.BatchSize, true, settings.PerSeqBatchSample, rng)
		validLoader := scgpt.NewDataLoader(validData, hp.BatchSize, false, false, nil)

		model.SetTraining(true)
		trainLoss, err := scgpt.Train(model, trainLoader, hp, sched.LR(), epoch, &globalStep)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		model.SetTraining(false)
		validLoss, validMRE, err := scgpt.Evaluate(model, validLoader)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		log.Info("epoch finished",
			"epoch", epoch,
			"train_loss", trainLoss,
			"valid_loss", validLoss,
			"valid_mre", validMRE,
			"lr", sched.LR(),
			"elapsed", time.Since(start).Round(time.Millisecond))
		trainLosses = append(trainLosses, float64(trainLoss))
		validLosses = append(validLosses, float64(validLoss))

		if bestSnapshot == nil || validLoss < bestLoss {
			bestLoss = validLoss
			bestEpoch = epoch
			bestSnapshot = model.Snapshot()
			log.Info("new best model", "epoch", epoch, "valid_loss", validLoss)
		}
		sched.Step()
	}

	if bestSnapshot != nil {
		if err := model.Restore(bestSnapshot); err != nil {
			return err
		}
	}

	if args.saveBest != "" {
		if err := saveBestModel(args.saveBest, model, cfg, vocab, bestEpoch, bestLoss); err != nil {
			return fmt.Errorf("saving best model: %w", err)
		}
		log.Info("saved best model", "dir", args.saveBest, "epoch", bestEpoch)
	}

	tokAll, err := scgpt.TokenizeAndPad(binned, nRows, nCols, geneIDs,
		settings.MaxSeqLen, vocab, settings, true, true)
	if err != nil {
		return err
	}
	emb, err := scgpt.EmbedData(model, tokAll, batchCodes, hp.BatchSize)
	if err != nil {
		return fmt.Errorf("embedding cells: %w", err)
	}

	out, err := anndata.NewAnnData(nil, adata.Obs.Select(), adata.Var.Select())
	if err != nil {
		return err
	}
	out.Obsm["X_emb"] = anndata.NewMatrix(nRows, cfg.EmbSize, emb)
	out.Uns["dataset_id"] = adata.Uns["dataset_id"]
	out.Uns["normalization_id"] = adata.Uns["normalization_id"]
	out.Uns["method_id"] = methodID
	if err := anndata.Write(out, args.output); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	log.Info("wrote embeddings", "path", args.output, "cells", nRows, "dim", cfg.EmbSize)

	if args.plotPath != "" {
		if err := plotLosses(trainLosses, validLosses, args.plotPath); err != nil {
			return fmt.Errorf("plotting losses: %w", err)
		}
	}
	return nil
}

// saveBestModel writes a model directory in the same layout as a pretrained
// one, so it can be fed back in as --model.
func saveBestModel(dir string, model *scgpt.TransformerModel, cfg *scgpt.PretrainedConfig,
	vocab *scgpt.GeneVocab, epoch int, valLoss float32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := cfg.Save(filepath.Join(dir, models.ConfigFile)); err != nil {
		return err
	}
	if err := vocab.Save(filepath.Join(dir, models.VocabFile)); err != nil {
		return err
	}
	return scgpt.SaveCheckpoint(model, filepath.Join(dir, models.CheckpointFile),
		scgpt.CheckpointMeta{
			Epoch:     epoch,
			ValLoss:   valLoss,
			CreatedAt: time.Now().UTC(),
		})
}

// printRunTables prints the resolved architecture and hyperparameters.
func printRunTables(cfg *scgpt.PretrainedConfig, settings scgpt.ModelSettings,
	hp scgpt.Hyperparameters, nBatches int) {
	header := color.New(color.FgCyan, color.Bold)

	header.Println("model")
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"setting", "value"})
	t.AppendBulk([][]string{
		{"embsize", fmt.Sprint(cfg.EmbSize)},
		{"nheads", fmt.Sprint(cfg.NHeads)},
		{"d_hid", fmt.Sprint(cfg.DHid)},
		{"nlayers", fmt.Sprint(cfg.NLayers)},
		{"n_input_bins", fmt.Sprint(settings.NInputBins)},
		{"max_seq_len", fmt.Sprint(settings.MaxSeqLen)},
		{"batch_domains", fmt.Sprint(nBatches)},
		{"dsbn", fmt.Sprint(settings.DSBN)},
	})
	t.Render()

	header.Println("fine-tuning")
	t = tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"hyperparameter", "value"})
	t.AppendBulk([][]string{
		{"epochs", fmt.Sprint(hp.Epochs)},
		{"batch_size", fmt.Sprint(hp.BatchSize)},
		{"lr", fmt.Sprint(hp.LR)},
		{"schedule_ratio", fmt.Sprint(hp.ScheduleRatio)},
		{"mask_ratio", fmt.Sprint(hp.MaskRatio)},
		{"dropout", fmt.Sprint(hp.Dropout)},
		{"gepc", fmt.Sprint(hp.GEPC)},
		{"dab_weight", fmt.Sprint(hp.DabWeight)},
		{"ecs_threshold", fmt.Sprint(hp.ECSThreshold)},
	})
	t.Render()
}

// plotLosses writes a per-epoch loss curve.
func plotLosses(train, valid []float64, path string) error {
	p := plot.New()
	p.Title.Text = "fine-tuning loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	toXY := func(vals []float64) plotter.XYs {
		xy := make(plotter.XYs, len(vals))
		for i, v := range vals {
			xy[i].X = float64(i + 1)
			xy[i].Y = v
		}
		return xy
	}
	trainLine, err := plotter.NewLine(toXY(train))
	if err != nil {
		return err
	}
	validLine, err := plotter.NewLine(toXY(valid))
	if err != nil {
		return err
	}
	validLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(trainLine, validLine)
	p.Legend.Add("train", trainLine)
	p.Legend.Add("valid", validLine)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
